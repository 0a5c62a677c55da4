// Package api is the example public API: user endpoints served over the
// service router, reading and writing through the users store.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/korthq/bx/example/users"
)

var validate = validator.New()

type API struct {
	store *users.Store
}

type Options struct {
	Store *users.Store
}

func New(opts Options) *API {
	return &API{store: opts.Store}
}

// Register attaches the user routes to r.
func (a *API) Register(r *gin.Engine) {
	r.GET("/api/users", a.listUsers)
	r.GET("/api/users/:id", a.getUser)
	r.POST("/api/users", a.postUser)
	r.DELETE("/api/users/:id", a.deleteUser)
}

func (a *API) listUsers(c *gin.Context) {
	us, err := a.store.List(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": us})
}

func (a *API) getUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{})
		return
	}

	u, err := a.store.ByID(c.Request.Context(), id)
	if errors.Is(err, users.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{})
		return
	}

	c.JSON(http.StatusOK, u)
}

func (a *API) postUser(c *gin.Context) {
	type request struct {
		Name  string `json:"name" validate:"required"`
		Email string `json:"email" validate:"required,email"`
	}
	type response struct {
		ID int64 `json:"id"`
	}

	var req request
	if err := c.BindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{})
		return
	}

	id, err := a.store.Add(c.Request.Context(), req.Name, req.Email)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{})
		return
	}

	c.JSON(http.StatusOK, response{ID: id})
}

func (a *API) deleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{})
		return
	}

	err = a.store.Delete(c.Request.Context(), id)
	if errors.Is(err, users.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{})
		return
	}

	c.Status(http.StatusNoContent)
}
