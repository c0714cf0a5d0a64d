package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/docqa/app/controllers"
	"github.com/aihub/docqa/app/middleware"
)

// Init registers all routes. Must be called after the container is built.
func Init(factory *controllers.ControllerFactory) error {
	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)
	web.InsertFilter("/*", web.BeforeRouter, middleware.RequestStart)
	web.InsertFilter("/*", web.FinishRouter, middleware.RequestLog, web.WithReturnOnOutput(false))

	health, err := factory.CreateHealthController()
	if err != nil {
		return err
	}
	web.Router("/api/health", health, "get:Health")

	metrics, err := factory.CreateMetricsController()
	if err != nil {
		return err
	}
	web.Router("/metrics", metrics, "get:Metrics")

	qa, err := factory.CreateDocQAController()
	if err != nil {
		return err
	}
	web.Router("/upload", qa, "post:Upload")
	web.Router("/ask", qa, "post:Ask")
	web.Router("/clear", qa, "post:Clear")
	web.Router("/progress/:session_id", qa, "get:Progress")
	web.Router("/status/:session_id", qa, "get:Status")
	web.Router("/api/languages", qa, "get:Languages")

	return nil
}
