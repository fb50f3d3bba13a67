package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/internal/app/api/middleware"
	"github.com/fatflowers/saasbill/internal/app/service/identity"
	"github.com/fatflowers/saasbill/internal/app/service/notification"
	"github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/response"
)

type AuthService interface {
	SignUp(ctx context.Context, p identity.SignUpParams) (*models.User, error)
	SignIn(ctx context.Context, email, password string) (string, *models.User, error)
	SendVerificationEmail(ctx context.Context, u *models.User) notification.Result
	VerifyEmail(ctx context.Context, token string) (*models.User, error)
}

type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UserView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
}

type UserResponse struct {
	User UserView `json:"user"`
}

type SignInResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      UserView  `json:"user"`
}

func toUserView(u *models.User) UserView {
	return UserView{ID: u.ID, Email: u.Email, Name: u.Name, EmailVerified: u.EmailVerified}
}

// @Summary      Sign Up
// @Description  Creates an email/password account and sends a verification email.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body handlers.SignUpRequest true "Account details"
// @Success      201  {object}  handlers.UserResponse
// @Failure      400  {object}  response.ErrorBody
// @Failure      409  {object}  response.ErrorBody
// @Router       /api/auth/sign-up [post]
func ApiSignUp(svc AuthService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error("A valid email and a password of at least 8 characters are required"))
			return
		}
		u, err := svc.SignUp(c.Request.Context(), identity.SignUpParams{Email: req.Email, Password: req.Password, Name: req.Name})
		switch {
		case errors.Is(err, identity.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, response.Error(err.Error()))
			return
		case errors.Is(err, identity.ErrUserExists):
			c.JSON(http.StatusConflict, response.Error("User already exists"))
			return
		case err != nil:
			logctx.FromGin(c, log).Errorw("sign_up_failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.Error("Failed to create account"))
			return
		}
		svc.SendVerificationEmail(c.Request.Context(), u).Log(c.Request.Context(), log, "verification_email", "user_id", u.ID)
		c.JSON(http.StatusCreated, UserResponse{User: toUserView(u)})
	}
}

// @Summary      Sign In
// @Description  Checks email and password, returns a session token and sets the session cookie.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body handlers.SignInRequest true "Credentials"
// @Success      200  {object}  handlers.SignInResponse
// @Failure      400  {object}  response.ErrorBody
// @Failure      401  {object}  response.ErrorBody
// @Router       /api/auth/sign-in [post]
func ApiSignIn(svc AuthService, sessionTTL time.Duration, secureCookie bool, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error("A valid email and a password are required"))
			return
		}
		token, u, err := svc.SignIn(c.Request.Context(), req.Email, req.Password)
		if errors.Is(err, identity.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, response.Error("Invalid email or password"))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Errorw("sign_in_failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.Error("Failed to sign in"))
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.SessionCookie, token, int(sessionTTL.Seconds()), "/", "", secureCookie, true)
		c.JSON(http.StatusOK, SignInResponse{Token: token, ExpiresAt: time.Now().Add(sessionTTL), User: toUserView(u)})
	}
}

// @Summary      Verify Email
// @Description  Consumes an email verification token.
// @Tags         Auth
// @Produce      json
// @Param        token query string true "Verification token"
// @Success      200  {object}  handlers.UserResponse
// @Failure      400  {object}  response.ErrorBody
// @Router       /api/auth/verify-email [get]
func ApiVerifyEmail(svc AuthService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := svc.VerifyEmail(c.Request.Context(), c.Query("token"))
		if errors.Is(err, identity.ErrInvalidToken) {
			c.JSON(http.StatusBadRequest, response.Error("Invalid or expired verification token"))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Errorw("verify_email_failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.Error("Failed to verify email"))
			return
		}
		c.JSON(http.StatusOK, UserResponse{User: toUserView(u)})
	}
}

func RegisterAuthRoutes(r gin.IRouter, svc AuthService, sessionTTL time.Duration, secureCookie bool, log *zap.SugaredLogger) {
	r.POST("/sign-up", ApiSignUp(svc, log))
	r.POST("/sign-in", ApiSignIn(svc, sessionTTL, secureCookie, log))
	r.GET("/verify-email", ApiVerifyEmail(svc, log))
}
