package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/config"
	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/collaborator"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"github.com/ericaxiaweilin/EngHub/internal/shared/feishu"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sequence"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sse"
	"github.com/ericaxiaweilin/EngHub/internal/shared/storage"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 编码计数器在 Redis 中按天保留
const sequenceTTL = 48 * time.Hour

// app 进程级依赖，serve 使用
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
	rdb *redis.Client
	nc  *nats.Conn
	hub *sse.Hub
	// 可为空
	alerts *event.FeishuNotifier
	svc *service.Services
}

func openDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := entity.AutoMigrate(db); err != nil {
		return nil, errs.Wrap(err, "auto migrate")
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	db, err := openDatabase(cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, db: db, hub: sse.NewHub(log)}

	// 未指定文件时使用内置策略
	pol, err := policy.Load(cfg.MES.PolicyFile)
	if err != nil {
		return nil, errs.Wrap(err, "load quality policy")
	}
	log.Info("quality policy loaded", zap.String("file", cfg.MES.PolicyFile), zap.String("version", pol.Version))

	var counter sequence.Counter
	if cfg.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, falling back to database counters", errs.Field(err))
			a.rdb.Close()
			a.rdb = nil
		} else {
			counter = sequence.NewRedisCounter(a.rdb, "mes:seq:", sequenceTTL)
		}
	}

	masterData, equipment, err := a.collaborators()
	if err != nil {
		return nil, err
	}

	publishers := event.Multi{event.NewHubPublisher(a.hub)}
	if cfg.NATS.URL != "" {
		nc, err := event.ConnectNATS(cfg.NATS, log)
		if err != nil {
			log.Warn("nats unavailable, events stay local", errs.Field(err))
		} else {
			a.nc = nc
			publishers = append(publishers, event.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
		}
	}

	if cfg.Feishu.Enabled() {
		var opts []feishu.Option
		if cfg.Feishu.BaseURL != "" {
			opts = append(opts, feishu.WithBaseURL(cfg.Feishu.BaseURL))
		}
		client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, opts...)
		a.alerts = event.NewFeishuNotifier(client, cfg.Feishu.AlertChatID, log)
		publishers = append(publishers, a.alerts)
	}

	deps := service.Deps{
		DB:          db,
		Repos:       repository.NewRepositories(db),
		Policy:      pol,
		Counter:     counter,
		MasterData:  masterData,
		Equipment:   equipment,
		Events:      publishers,
		Logger:      log,
		FactoryCode: cfg.MES.FactoryCode,
	}
	store, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		return nil, errs.Wrap(err, "init object storage")
	}
	if store != nil {
		if err := store.EnsureBucket(ctx); err != nil {
			log.Warn("object storage bucket unavailable", zap.String("bucket", cfg.MinIO.Bucket), errs.Field(err))
		}
		deps.Store = store
	}

	a.svc = service.NewServices(deps)
	return a, nil
}

// collaborators 配置了URL的走HTTP，其余用本地静态数据
func (a *app) collaborators() (collaborator.MasterData, collaborator.Equipment, error) {
	cfg := a.cfg.MES
	static := collaborator.NewStatic()
	if cfg.StaticDataFile != "" {
		s, err := collaborator.LoadStatic(cfg.StaticDataFile)
		if err != nil {
			return nil, nil, err
		}
		static = s
	}

	var masterData collaborator.MasterData = static
	if cfg.MasterDataURL != "" {
		masterData = collaborator.NewHTTPMasterData(cfg.MasterDataURL, cfg.CollaboratorTimeout)
		if a.rdb != nil {
			masterData = collaborator.NewCachedMasterData(masterData, a.rdb, cfg.BOMCacheTTL, a.log)
		}
	}
	var equipment collaborator.Equipment = static
	if cfg.EquipmentURL != "" {
		equipment = collaborator.NewHTTPEquipment(cfg.EquipmentURL, cfg.CollaboratorTimeout)
	}
	a.log.Info("collaborators configured",
		zap.Bool("master_data_http", cfg.MasterDataURL != ""),
		zap.Bool("equipment_http", cfg.EquipmentURL != ""),
		zap.Bool("bom_cache", cfg.MasterDataURL != "" && a.rdb != nil))
	return masterData, equipment, nil
}

func (a *app) close() {
	if a.alerts != nil {
		a.alerts.Wait()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.log.Warn("nats drain failed", errs.Field(err))
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
