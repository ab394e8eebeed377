package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mealgate/internal/portal"
)

// registerPortal mounts the student self-service routes. These are backed by
// the flat-file account store, not the realtime users table.
func registerPortal(r *gin.Engine, students *portal.FileStore) {
	r.POST("/v1/students/signup", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
			return
		}
		acct, err := students.Signup(req.Name, req.Email, req.Password)
		if err != nil {
			if errors.Is(err, portal.ErrAlreadyExists) {
				c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": accountJSON(acct)})
	})

	r.POST("/v1/students/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
			return
		}
		acct, err := students.Login(req.Email, req.Password)
		if err != nil {
			if errors.Is(err, portal.ErrAuthFailed) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": accountJSON(acct)})
	})

	r.POST("/v1/students/purchase", func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId" binding:"required"`
			Days   int    `json:"days" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
			return
		}
		p, err := students.Purchase(req.UserID, req.Days)
		if err != nil {
			switch {
			case errors.Is(err, portal.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			case errors.Is(err, portal.ErrPendingExists):
				c.JSON(http.StatusConflict, gin.H{"error": "pending purchase exists"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusCreated, gin.H{"purchase": p})
	})

	r.GET("/v1/students/:id/plans", func(c *gin.Context) {
		plans, err := students.PlansFor(c.Param("id"))
		if err != nil {
			if errors.Is(err, portal.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"plans": plans})
	})
}

// accountJSON shapes an account for responses; the password never leaves the
// store file.
func accountJSON(a portal.Account) gin.H {
	return gin.H{
		"id":       a.ID,
		"name":     a.Name,
		"email":    a.Email,
		"role":     a.Role,
		"rfid_tag": a.RFIDTag,
		"status":   a.Status,
	}
}
