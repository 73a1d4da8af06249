package domain

// JWTClaims represents the JWT payload issued by the auth backend.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// RoleAdmin is the role allowed to read operator endpoints.
const RoleAdmin = "admin"
