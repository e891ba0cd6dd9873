package redisx

import "time"

const (
	// idem:{sha256(key|identity)} -> JSON idempotency record
	KeyIdempotency = "idem:%s"

	// oauth:mp:state:{ulid} -> partner id, consumed once by the OAuth callback
	KeyOAuthState = "oauth:mp:state:%s"

	// cnpj:{14 digits} -> JSON company record
	KeyCNPJ = "cnpj:%s"

	// ratelimit:{scope}:{subject}:{window} -> request counter
	KeyRateLimit = "ratelimit:%s:%s:%d"
)

var (
	TTLOAuthState = 10 * time.Minute
	TTLCNPJ       = 24 * time.Hour
)
