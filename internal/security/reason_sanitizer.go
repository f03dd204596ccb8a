package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses は文字実体で多重にエンコードされたマークアップを剥がす最大回数。
const maxSanitizePasses = 4

// ReasonSanitizer は取引の理由からマークアップを取り除く。
// 理由はエスケープしないプレーンテキストとして保存するため、HTMLに埋め込む側でエスケープすること。
type ReasonSanitizer struct {
	policy *bluemonday.Policy
}

// NewReasonSanitizer はReasonSanitizerを生成する。
func NewReasonSanitizer() *ReasonSanitizer {
	return &ReasonSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、前後の空白を取り除いたテキストを返す。
// bluemondayがエスケープした文字実体は元の文字に戻し、戻した結果に現れたタグ
// （&lt;b&gt; のようにエンコードされていたもの）も変化がなくなるまで除去する。
func (s *ReasonSanitizer) Sanitize(reason string) string {
	text := reason
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	// 収束しない多重エンコードはエスケープしたまま返す
	return strings.TrimSpace(s.policy.Sanitize(text))
}
