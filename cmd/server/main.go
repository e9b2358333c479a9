package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jkweon/tandem/internal/api"
	"github.com/jkweon/tandem/internal/db"
	"github.com/jkweon/tandem/internal/kv"
	"github.com/jkweon/tandem/internal/middleware"
	"github.com/jkweon/tandem/internal/services"
	"github.com/jkweon/tandem/internal/utils"
)

func main() {
	addr := utils.SafeEnv("TANDEM_ADDR", ":8080")
	baseURL := utils.SafeEnv("TANDEM_BASE_URL", "http://localhost:8080")
	commit := os.Getenv("TANDEM_COMMIT")
	buildTime := os.Getenv("TANDEM_BUILD_TIME")

	// local tier: file-backed for durability across restarts
	dataPath := utils.SafeEnv("TANDEM_DATA_PATH", filepath.Join("data", "tandem.json"))
	local, err := kv.NewFileStore(dataPath)
	if err != nil {
		log.Fatalf("open local store %s: %v", dataPath, err)
	}

	// remote tier: optional, account-backed sqlite
	var remote *db.RemoteStore
	if sqlitePath := os.Getenv("TANDEM_SQLITE_PATH"); sqlitePath != "" {
		sqlDB, err := sql.Open("sqlite3", sqlitePath)
		if err != nil {
			log.Fatalf("open sqlite %s: %v", sqlitePath, err)
		}
		if err := db.RunMigrations(sqlDB); err != nil {
			log.Fatalf("migrate sqlite: %v", err)
		}
		remote, err = db.NewRemoteStore(sqlDB)
		if err != nil {
			log.Fatalf("init remote store: %v", err)
		}
		// reclaim invitation rows past their 30-day expiry, at boot and
		// twice a day thereafter
		remote.PurgeExpiredInvitations(time.Now().UTC())
		go func() {
			for range time.Tick(12 * time.Hour) {
				remote.PurgeExpiredInvitations(time.Now().UTC())
			}
		}()
	} else {
		log.Printf("TANDEM_SQLITE_PATH unset; running with local tier only")
	}

	registry := services.NewRegistry()
	engine := services.NewScoringEngine()
	progress := services.NewProgressService(local)

	var resultRemote services.RemoteResultStore
	var inviteRemote services.RemoteInviteStore
	accounts := services.NewLocalAccountStore(local)
	if remote != nil {
		resultRemote = remote
		inviteRemote = remote
		accounts = remote
	}
	results := services.NewResultService(local, resultRemote)

	mailer := services.NewRelayMailer(os.Getenv("TANDEM_MAIL_ENDPOINT"), nil)
	invites := services.NewInviteService(local, inviteRemote, results, registry, mailer, baseURL)
	matches := services.NewMatchService(local, results, registry, engine, invites, mailer)
	sessions := services.NewSessionService(registry, progress, results, engine)
	auth := services.NewAuthService(accounts, middleware.SignToken)

	mux := http.NewServeMux()
	api.NewRouter(registry, auth, sessions, results, invites, matches).Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Tandem API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	// Frontend serving strategy (priority):
	// 1) Static files if TANDEM_STATIC_DIR is set (fullstack image)
	// 2) Dev proxy if TANDEM_DEV_FRONTEND_URL is set (proxy / to the dev server)
	if staticDir := os.Getenv("TANDEM_STATIC_DIR"); staticDir != "" {
		fs := http.FileServer(http.Dir(staticDir))
		mux.Handle("/", fs)
	} else if devURL := os.Getenv("TANDEM_DEV_FRONTEND_URL"); devURL != "" {
		if u, err := url.Parse(devURL); err == nil {
			rp := httputil.NewSingleHostReverseProxy(u)
			// no-store headers must also apply to proxied responses
			rp.ModifyResponse = func(res *http.Response) error {
				res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
				res.Header.Set("Pragma", "no-cache")
				res.Header.Set("Expires", "0")
				return nil
			}
			mux.Handle("/", rp)
		} else {
			log.Printf("invalid TANDEM_DEV_FRONTEND_URL=%q: %v", devURL, err)
		}
	}

	handler := middleware.NoStore(middleware.SecureHeaders(middleware.CORS(middleware.Locale(middleware.WithAuth(mux)))))

	log.Printf("Tandem server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
