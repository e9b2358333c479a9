package utils

// Fixed-key server-side strings. Question prompts and UI copy live in the
// frontend; the server only needs mail subjects and health text.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":               "ok",
		"mail.invitation.subject": "You've been invited to take a test together",
		"mail.joint.subject":      "Your joint results are ready",
	},
	"ko": {
		"health.ok":               "정상",
		"mail.invitation.subject": "함께 테스트에 참여하도록 초대받았습니다",
		"mail.joint.subject":      "두 분의 결과가 준비되었습니다",
	},
	"ja": {
		"health.ok":               "正常",
		"mail.invitation.subject": "一緒にテストを受けるよう招待されました",
		"mail.joint.subject":      "お二人の結果が届きました",
	},
	"zh": {
		"health.ok":               "正常",
		"mail.invitation.subject": "您收到了一起测试的邀请",
		"mail.joint.subject":      "你们的共同结果已生成",
	},
}

// T returns the translated string for key in locale, falling back to
// English and finally to the key itself.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations["en"][key]; ok {
		return v
	}
	return key
}
