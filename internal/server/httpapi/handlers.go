package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/modernapi/internal/server/services"
	"github.com/gin-gonic/gin"
)

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// bind decodes the JSON body into dst and answers 400 on malformed input.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "request body must be valid JSON")
		return false
	}
	return true
}

func (s *Server) register(c *gin.Context) {
	var req services.RegisterRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.auth.Register(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) login(c *gin.Context) {
	var req services.LoginRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.auth.Login(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshTokenRequest
	if !bind(c, &req) {
		return
	}
	tokens, err := s.auth.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) logout(c *gin.Context) {
	var req refreshTokenRequest
	if !bind(c, &req) {
		return
	}
	if err := s.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) validateRefreshToken(c *gin.Context) {
	var req refreshTokenRequest
	if !bind(c, &req) {
		return
	}
	ok, err := s.auth.ValidateRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": ok})
}

func (s *Server) logoutAll(c *gin.Context) {
	n, err := s.auth.LogoutAllDevices(c.Request.Context(), currentClaims(c).Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (s *Server) changePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if !bind(c, &req) {
		return
	}
	if err := s.auth.ChangePassword(c.Request.Context(), currentClaims(c).Subject, req); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) sessions(c *gin.Context) {
	list, err := s.auth.ListSessions(c.Request.Context(), currentClaims(c).Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.users.GetProfile(c.Request.Context(), currentClaims(c).Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) updateProfile(c *gin.Context) {
	var req services.UpdateProfileRequest
	if !bind(c, &req) {
		return
	}
	p, err := s.users.UpdateProfile(c.Request.Context(), currentClaims(c).Subject, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) changeEmail(c *gin.Context) {
	var req services.ChangeEmailRequest
	if !bind(c, &req) {
		return
	}
	p, err := s.users.ChangeEmail(c.Request.Context(), currentClaims(c).Subject, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) verifyEmail(c *gin.Context) {
	p, err := s.users.VerifyEmail(c.Request.Context(), currentClaims(c).Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// deactivate disables the caller's own account and ends all sessions.
func (s *Server) deactivate(c *gin.Context) {
	p, err := s.users.Deactivate(c.Request.Context(), currentClaims(c).Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
