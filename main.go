package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"studylab/internal/config"
	"studylab/internal/db"
	"studylab/internal/events"
	"studylab/internal/logger"
	"studylab/internal/model"
	"studylab/internal/router"
	"studylab/internal/service"
)

var (
	configPath string
	cfg        *config.Config
	log        *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "studylab",
	Short:        "批量文本分类研究服务",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		log, err = logger.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("初始化日志失败: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
}

func closeDB(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 初始化数据库
		gdb, err := db.InitDB(cfg, log)
		if err != nil {
			return err
		}
		defer closeDB(gdb)

		// 初始化服务
		svc, err := service.NewServiceContext(ctx, cfg, gdb, log)
		if err != nil {
			return err
		}
		if err := svc.Reaper.Start(ctx); err != nil {
			_ = svc.Close(context.Background())
			return err
		}

		// 初始化路由
		gin.SetMode(cfg.Server.Mode)
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: router.SetupRouter(svc, log),
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("服务启动", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				_ = svc.Close(context.Background())
				return fmt.Errorf("启动服务失败: %w", err)
			}
		case <-ctx.Done():
		}

		log.Info("正在关闭服务", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 先中断运行，SSE 连接收到 failed 事件后才能结束
		svcErr := svc.Close(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP 服务关闭超时", zap.Error(err))
		}
		if svcErr != nil {
			log.Warn("后台运行未在超时内结束", zap.Error(svcErr))
		}
		log.Info("服务已关闭")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "执行数据库迁移",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.InitDB(cfg, log)
		if err != nil {
			return err
		}
		closeDB(gdb)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <study-id>",
	Short: "在前台运行一个研究并输出汇总",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		studyID := args[0]
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gdb, err := db.InitDB(cfg, log)
		if err != nil {
			return err
		}
		defer closeDB(gdb)

		svc, err := service.NewServiceContext(ctx, cfg, gdb, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = svc.Close(closeCtx)
		}()

		subCtx, cancelSub := context.WithCancel(context.Background())
		defer cancelSub()
		ch, unsubscribe := svc.Engine.Subscribe(subCtx, studyID)
		defer unsubscribe()

		if _, err := svc.Engine.StartRun(ctx, studyID); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
	loop:
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					// 订阅因消费过慢被移除，改为轮询直到运行结束
					ch = nil
					continue
				}
				printEvent(out, e)
				if e.Terminal() {
					break loop
				}
			case <-ticker.C:
				if ch == nil && !svc.Engine.IsActive(studyID) {
					break loop
				}
			case <-ctx.Done():
				// 关闭引擎会把本次运行记为 InterruptedError 并推送 failed
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				_ = svc.Engine.Close(closeCtx)
				cancel()
				ctx = context.Background()
			}
		}

		study, err := svc.Repo.GetStudy(context.Background(), studyID)
		if err != nil {
			return err
		}
		results, err := svc.Repo.ListResults(context.Background(), studyID)
		if err != nil {
			return err
		}
		sum, err := service.Summarize(study, results)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, service.RenderSummaryMarkdown(sum))

		if study.Status == model.StudyStatusFailed {
			return errors.New(study.ErrorMessage)
		}
		return nil
	},
}

func printEvent(w io.Writer, e events.Event) {
	switch e.Type {
	case events.TypeConnected:
		fmt.Fprintf(w, "[%s] 已订阅\n", e.StudyID)
	case events.TypeRowWindowComplete:
		fmt.Fprintf(w, "run %d: %d/%d (%.1f%%)\n", e.RunNumber, e.CurrentRow, e.TotalRows, e.ProgressPercent)
	case events.TypeComplete:
		fmt.Fprintf(w, "run %d 完成: %d 行\n", e.RunNumber, e.TotalRows)
	case events.TypeFailed:
		fmt.Fprintf(w, "run %d 失败: %s\n", e.RunNumber, e.ErrorMessage)
	}
}
