package common

// AuthorizationHeaderName is the HTTP header carrying the bearer access token.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the access token in the Authorization header.
const BearerPrefix = "Bearer "

// Refresh token revocation reasons.
const (
	RevokeReasonRotated         = "rotated"
	RevokeReasonLogout          = "user logout"
	RevokeReasonLogoutAll       = "logout-all"
	RevokeReasonPasswordChanged = "password-changed"
	RevokeReasonDeactivated     = "deactivated"
	RevokeReasonAdmin           = "admin"
)
