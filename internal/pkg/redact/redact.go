// redact маскирует чувствительные данные для логов: e-mail, токены, пароли.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Email маскирует e-mail для логирования.
//
// Правила:
//   - ровно один '@', иначе "***";
//   - локальная часть сокращается до двух первых рун + "***",
//     при длине ≤ 2 остаётся только "***";
//   - домен не меняется.
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	local, domain, _ := strings.Cut(s, "@")

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token возвращает литерал-заглушку для токена в логах.
func Token() string { return "[REDACTED_TOKEN]" }

// Password возвращает литерал-заглушку для пароля в логах.
func Password() string { return "[REDACTED_PASSWORD]" }

// Fingerprint — короткий стабильный отпечаток токена (первые 8 hex SHA-256).
// Позволяет сопоставлять записи логов, не раскрывая сам токен.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
