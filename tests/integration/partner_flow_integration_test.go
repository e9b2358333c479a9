//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("TANDEM_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

// Exercises the full partner journey against a running server: register,
// complete the partnered test, invite, complete again through the link, and
// read back the joint outcome.
func TestPartnerJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	userEmail := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	password := "Secret123!"

	var registerResp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]string{
		"email":    userEmail,
		"password": password,
	}, &registerResp)
	if registerResp.Token == "" {
		t.Fatalf("register did not return a token: %+v", registerResp)
	}
	token := registerResp.Token

	answers := map[string]any{}
	for i := 1; i <= 10; i++ {
		answers["cc"+strconv.Itoa(i)] = map[string]any{"scale": 4}
	}
	var completeResp struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	doPost(t, client, base+"/api/tests/couple-compatibility/complete", token, map[string]any{
		"answers": answers,
	}, &completeResp)
	if completeResp.Result.ID == "" {
		t.Fatalf("completion did not return a result id")
	}

	var inviteResp struct {
		Invitations []struct {
			Token string `json:"token"`
			Link  string `json:"link"`
		} `json:"invitations"`
	}
	doPost(t, client, base+"/api/invitations", token, map[string]any{
		"source_result_id": completeResp.Result.ID,
		"inviter_name":     "Jamie Park",
		"recipients":       []string{"partner@example.com"},
		"language":         "en",
	}, &inviteResp)
	if len(inviteResp.Invitations) != 1 || inviteResp.Invitations[0].Link == "" {
		t.Fatalf("invitation not issued: %+v", inviteResp)
	}

	linkURL, err := url.Parse(inviteResp.Invitations[0].Link)
	if err != nil {
		t.Fatalf("parse invitation link: %v", err)
	}

	// partner answers differently, anonymously, through the link params
	partnerAnswers := map[string]any{}
	for i := 1; i <= 10; i++ {
		partnerAnswers["cc"+strconv.Itoa(i)] = map[string]any{"scale": 3}
	}
	var partnerResp struct {
		State string `json:"state"`
		Joint struct {
			Compatibility int            `json:"compatibility"`
			Areas         map[string]int `json:"areas"`
			Summary       string         `json:"summary"`
		} `json:"joint"`
	}
	doPost(t, client, base+"/api/partner/complete?"+linkURL.RawQuery, "", map[string]any{
		"answers": partnerAnswers,
	}, &partnerResp)
	if partnerResp.State != "matched" {
		t.Fatalf("expected matched state, got %q", partnerResp.State)
	}
	if partnerResp.Joint.Compatibility < 0 || partnerResp.Joint.Compatibility > 100 {
		t.Fatalf("compatibility out of range: %d", partnerResp.Joint.Compatibility)
	}
	if partnerResp.Joint.Summary == "" {
		t.Fatalf("joint outcome missing summary")
	}

	// the invitation now reports the terminal state
	var stateResp struct {
		State string `json:"state"`
	}
	doGet(t, client, base+"/api/invitations/"+inviteResp.Invitations[0].Token, &stateResp)
	if stateResp.State != "matched" {
		t.Fatalf("invitation state not terminal: %q", stateResp.State)
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http post %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}

func doGet(t *testing.T, client *http.Client, url string, out any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("http get %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
