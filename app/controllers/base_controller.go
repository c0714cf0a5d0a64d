package controllers

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
	Errors *apperrors.ErrorHandler
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError resolves err into its HTTP status and error envelope.
func (c *BaseController) JSONError(err error) {
	endpoint := c.Ctx.Input.URL()
	if pattern, ok := c.Ctx.Input.GetData("RouterPattern").(string); ok && pattern != "" {
		endpoint = pattern
	}
	handler := c.Errors
	if handler == nil {
		handler = apperrors.NewErrorHandler(nil, nil)
	}
	status, body := handler.Resolve(err, endpoint)
	c.JSON(status, body)
}
