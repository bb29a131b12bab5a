package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-service/internal/service"
)

// Handler wires HTTP routes to the account service.
type Handler struct {
	accounts service.AccountService
	logger   logrus.FieldLogger
}

func NewHandler(accounts service.AccountService, logger logrus.FieldLogger) (*Handler, error) {
	if err := registerValidators(); err != nil {
		return nil, err
	}
	return &Handler{
		accounts: accounts,
		logger:   logger,
	}, nil
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestIDMiddleware(), accessLogMiddleware(h.logger), corsMiddleware())

	router.POST("/signup", h.signup)
	router.POST("/login", h.login)
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
}

type signupRequest struct {
	UserName string `json:"userName" binding:"required"`
	PassWord string `json:"passWord" binding:"required,len=32"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required,mobile"`
	// Level is accepted for compatibility and ignored; accounts get the default level.
	Level         *int       `json:"level"`
	CreateDate    *time.Time `json:"createDate"`
	UpdateDate    *time.Time `json:"updateDate"`
	LastLoginDate *time.Time `json:"lastLoginDate"`
}

type loginRequest struct {
	UserName     string `json:"userName" binding:"required"`
	PassWord     string `json:"passWord" binding:"required,len=32"`
	ValidityTime string `json:"validityTime" binding:"required"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": http.StatusBadRequest,
			"msg":    "signup failed",
			"error":  fieldErrors(err),
		})
		return
	}
	if req.Level != nil {
		h.logger.WithField("user_name", req.UserName).Debug("ignoring caller supplied level")
	}

	res, err := h.accounts.Signup(c.Request.Context(), service.SignupInput{
		UserName:      req.UserName,
		Password:      req.PassWord,
		Email:         req.Email,
		Phone:         req.Phone,
		CreateDate:    req.CreateDate,
		UpdateDate:    req.UpdateDate,
		LastLoginDate: req.LastLoginDate,
	})
	if err != nil {
		if isSignupRejection(err) {
			c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "msg": err.Error()})
			return
		}
		h.logger.WithError(err).Error("signup failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": http.StatusInternalServerError,
			"msg":    "signup service error",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": 0,
		"msg":    "signup succeeded",
		"token":  res.Token,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": http.StatusBadRequest,
			"msg":    "login failed",
			"error":  fieldErrors(err),
		})
		return
	}

	res, err := h.accounts.Login(c.Request.Context(), service.LoginInput{
		UserName:     req.UserName,
		Password:     req.PassWord,
		ValidityTime: req.ValidityTime,
	})
	if err != nil {
		if isLoginRejection(err) {
			c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "msg": err.Error()})
			return
		}
		h.logger.WithError(err).Error("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": http.StatusInternalServerError,
			"msg":    "login service error",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": 0,
		"msg":    "login succeeded",
		"data": LoginData{
			UserName:     res.UserName,
			LoginTimeGap: res.LoginTimeGap,
		},
		"token": res.Token,
	})
}

type LoginData struct {
	UserName     string `json:"userName"`
	LoginTimeGap int64  `json:"loginTimeGap"`
}

func isSignupRejection(err error) bool {
	return errors.Is(err, service.ErrUserNameTaken) ||
		errors.Is(err, service.ErrEmailTaken) ||
		errors.Is(err, service.ErrPhoneTaken)
}

func isLoginRejection(err error) bool {
	return errors.Is(err, service.ErrAccountNotFound) ||
		errors.Is(err, service.ErrIncorrectPassword) ||
		errors.Is(err, service.ErrInvalidValidityTime)
}
