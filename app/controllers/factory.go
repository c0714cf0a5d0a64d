package controllers

import (
	"go.uber.org/dig"

	"github.com/aihub/docqa/internal/config"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/services"
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

// CreateDocQAController 创建问答控制器
func (f *ControllerFactory) CreateDocQAController() (*DocQAController, error) {
	var ctrl *DocQAController

	err := f.container.Invoke(func(qa *services.QAService, handler *apperrors.ErrorHandler, cfg *config.Config) {
		ctrl = &DocQAController{
			BaseController: BaseController{Errors: handler},
			Service:        qa,
			UploadDir:      cfg.Ingestion.UploadDir,
			MaxFileSize:    cfg.Ingestion.MaxFileSize,
		}
	})
	if err != nil {
		return nil, err
	}

	return ctrl, nil
}

// CreateHealthController 创建健康检查控制器
func (f *ControllerFactory) CreateHealthController() (*HealthController, error) {
	var ctrl *HealthController

	err := f.container.Invoke(func(qa *services.QAService, monitor *services.HealthMonitor, handler *apperrors.ErrorHandler) {
		ctrl = &HealthController{BaseController: BaseController{Errors: handler}, Service: qa, Monitor: monitor}
	})
	if err != nil {
		return nil, err
	}

	return ctrl, nil
}

// CreateMetricsController 创建指标控制器
func (f *ControllerFactory) CreateMetricsController() (*MetricsController, error) {
	var ctrl *MetricsController

	err := f.container.Invoke(func(metrics *services.Metrics) {
		ctrl = &MetricsController{Collectors: metrics}
	})
	if err != nil {
		return nil, err
	}

	return ctrl, nil
}
