package models

// Session is the dashboard-side login state of one browser
type Session struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email"`
	Password      string `json:"-"` // Never expose in JSON
	Error         string `json:"error,omitempty"`
	Token         string `json:"-"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// LoginResponse is returned by POST /auth/login
type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}
