package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studylab/internal/handler"
	"studylab/internal/middleware"
	"studylab/internal/service"
)

func SetupRouter(svc *service.ServiceContext, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(log), middleware.Recovery(log), middleware.CORS())

	// 初始化handlers
	healthHandler := handler.NewHealthHandler(svc.Repo.DB())
	catalogHandler := handler.NewCatalogHandler(svc.Catalog)
	datasetHandler := handler.NewDatasetHandler(svc.Catalog)
	studyHandler := handler.NewStudyHandler(svc.Studies)

	r.GET("/health", healthHandler.Health)

	// API路由
	api := r.Group("/api", middleware.Auth(svc.Config.Auth.UserHeader))
	{
		// 分类器
		classifiers := api.Group("/classifiers")
		{
			classifiers.GET("", catalogHandler.ListClassifiers)
			classifiers.POST("", catalogHandler.CreateClassifier)
			classifiers.GET("/:id", catalogHandler.GetClassifier)
			classifiers.PUT("/:id", catalogHandler.UpdateClassifier)
			classifiers.DELETE("/:id", catalogHandler.DeleteClassifier)
		}

		// 约束
		constraints := api.Group("/constraints")
		{
			constraints.GET("", catalogHandler.ListConstraints)
			constraints.POST("", catalogHandler.CreateConstraint)
			constraints.GET("/:id", catalogHandler.GetConstraint)
			constraints.PUT("/:id", catalogHandler.UpdateConstraint)
			constraints.DELETE("/:id", catalogHandler.DeleteConstraint)
		}

		// 数据集
		datasets := api.Group("/datasets")
		{
			datasets.GET("", datasetHandler.ListDatasets)
			datasets.POST("", datasetHandler.UploadDataset)
			datasets.GET("/:id", datasetHandler.GetDataset)
			datasets.GET("/:id/download", datasetHandler.DownloadDataset)
			datasets.GET("/:id/preview", datasetHandler.PreviewDataset)
			datasets.DELETE("/:id", datasetHandler.DeleteDataset)
		}

		// 研究
		studies := api.Group("/studies")
		{
			studies.GET("", studyHandler.ListStudies)
			studies.POST("", studyHandler.CreateStudy)
			studies.GET("/:id", studyHandler.GetStudy)
			studies.DELETE("/:id", studyHandler.DeleteStudy)
			studies.POST("/:id/run", studyHandler.RunStudy)
			studies.GET("/:id/results", studyHandler.GetResults)
			studies.GET("/:id/progress", studyHandler.GetProgress)
			studies.GET("/:id/stream", studyHandler.StreamProgress)
			studies.GET("/:id/export", studyHandler.ExportStudy)
			studies.GET("/:id/summary", studyHandler.GetSummary)
		}
	}

	return r
}
