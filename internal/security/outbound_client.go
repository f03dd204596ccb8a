// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewOutboundClient は外部API呼び出し用のHTTPクライアントを生成する。
// safeurlにより、httpsの443番ポート以外への接続と、
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続がブロックされる。
// 宛先IPの検証はDNS解決後にDialerで行われるため、DNS再バインディングにも対応する。
func NewOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}
