package license

import (
	"errors"
	"fmt"
)

// Kind classifies why an authentication attempt failed
type Kind int

const (
	KindUnknown Kind = iota
	KindEmptyCredential
	KindHardwareIDUnavailable
	KindNetwork
	KindResponseMalformed
	KindRejected
	KindMissingCardInfo
	KindCardUnused
	KindCardExpired
	KindInvalidStatus
	KindMissingExpiry
	KindExpiryUnparseable
	KindAlreadyExpired
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindEmptyCredential:       "empty_credential",
	KindHardwareIDUnavailable: "hardware_id_unavailable",
	KindNetwork:               "network_error",
	KindResponseMalformed:     "response_malformed",
	KindRejected:              "rejected",
	KindMissingCardInfo:       "missing_card_info",
	KindCardUnused:            "card_unused",
	KindCardExpired:           "card_expired",
	KindInvalidStatus:         "invalid_status",
	KindMissingExpiry:         "missing_expiry",
	KindExpiryUnparseable:     "expiry_unparseable",
	KindAlreadyExpired:        "already_expired",
}

// String returns the snake_case name used in logs, metrics and problem types
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// IsStatusFailure reports whether the server declared the card not usable
func (k Kind) IsStatusFailure() bool {
	return k == KindCardUnused || k == KindCardExpired || k == KindInvalidStatus
}

// User-facing messages shown verbatim by the shell
const (
	MsgEmptyCredential       = "卡密不能为空"
	MsgHardwareIDUnavailable = "无法获取硬件ID"
	MsgNetworkPrefix         = "网络请求失败"
	MsgReadPrefix            = "读取响应失败"
	MsgMalformedPrefix       = "响应解析失败"
	MsgRejectedFallback      = "验证失败"
	MsgMissingCardInfo       = "服务器未返回卡密信息"
	MsgCardUnused            = "卡密未使用"
	MsgCardExpired           = "卡密已过期"
	MsgInvalidStatus         = "卡密状态无效"
	MsgMissingExpiry         = "服务器未返回过期时间"
	MsgExpiryUnparseable     = "解析过期时间失败"
	MsgAlreadyExpired        = "会话已过期，请重新登录"
)

// AuthError is the error returned by every failed verification step.
// Error returns the user-facing message.
type AuthError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is matches any AuthError of the same Kind, so the sentinels below work with errors.Is
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrEmptyCredential       = &AuthError{Kind: KindEmptyCredential, Message: MsgEmptyCredential}
	ErrHardwareIDUnavailable = &AuthError{Kind: KindHardwareIDUnavailable, Message: MsgHardwareIDUnavailable}
	ErrNetwork               = &AuthError{Kind: KindNetwork, Message: MsgNetworkPrefix}
	ErrResponseMalformed     = &AuthError{Kind: KindResponseMalformed, Message: MsgMalformedPrefix}
	ErrRejected              = &AuthError{Kind: KindRejected, Message: MsgRejectedFallback}
	ErrMissingCardInfo       = &AuthError{Kind: KindMissingCardInfo, Message: MsgMissingCardInfo}
	ErrCardUnused            = &AuthError{Kind: KindCardUnused, Message: MsgCardUnused}
	ErrCardExpired           = &AuthError{Kind: KindCardExpired, Message: MsgCardExpired}
	ErrInvalidStatus         = &AuthError{Kind: KindInvalidStatus, Message: MsgInvalidStatus}
	ErrMissingExpiry         = &AuthError{Kind: KindMissingExpiry, Message: MsgMissingExpiry}
	ErrExpiryUnparseable     = &AuthError{Kind: KindExpiryUnparseable, Message: MsgExpiryUnparseable}
	ErrAlreadyExpired        = &AuthError{Kind: KindAlreadyExpired, Message: MsgAlreadyExpired}
)

func newError(kind Kind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Cause: cause}
}

func networkError(prefix string, cause error) *AuthError {
	return newError(KindNetwork, fmt.Sprintf("%s: %v", prefix, cause), cause)
}

func malformedError(cause error) *AuthError {
	return newError(KindResponseMalformed, fmt.Sprintf("%s: %v", MsgMalformedPrefix, cause), cause)
}

// rejectedError carries the server's own message, or the generic fallback
func rejectedError(serverMessage string) *AuthError {
	if serverMessage == "" {
		serverMessage = MsgRejectedFallback
	}
	return newError(KindRejected, serverMessage, nil)
}

// KindOf extracts the failure kind from err, or KindUnknown
func KindOf(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}
