package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"ChatRelay/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Config struct {
	Uri         string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
}

type MongoManager struct {
	mu        sync.RWMutex
	db        *mongo.Database
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr MongoManager

func connect(ctx context.Context, cfg *Config) (*mongo.Database, error) {
	if cfg.Uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.Uri)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(cctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli.Database(cfg.Database), nil
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，掉线自动重连
func StartAsync(ctx context.Context, cfg *Config) {
	if globalMgr.readyCh == nil {
		globalMgr.readyCh = make(chan struct{})
	}

	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
			failThresh  = 3 // 连续失败阈值
		)

		for {
			// ===== 连接阶段（带退避重试） =====
			attempt := 0
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				db, err := connect(ctx, cfg)
				if err == nil {
					globalMgr.mu.Lock()
					globalMgr.db = db
					globalMgr.mu.Unlock()

					globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
					logger.Infof("[mgo] connected db=%s", cfg.Database)
					break
				}

				globalMgr.lastErr.Store(err)
				logger.Warnf("[mgo] connect failed attempt=%d err=%v", attempt, err)

				// 退避 + 抖动
				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
				timer := time.NewTimer(backoff - jitter/2)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// ===== 健康检查阶段（掉线则回到连接阶段）=====
			fail := 0
			healthTicker := time.NewTicker(healthEvery)
			func() {
				defer healthTicker.Stop()
				for {
					select {
					case <-ctx.Done():
						globalMgr.mu.Lock()
						if globalMgr.db != nil {
							_ = globalMgr.db.Client().Disconnect(context.Background())
							globalMgr.db = nil
						}
						globalMgr.mu.Unlock()
						return
					case <-healthTicker.C:
						globalMgr.mu.RLock()
						db := globalMgr.db
						globalMgr.mu.RUnlock()

						if db == nil {
							return
						}
						if err := db.Client().Ping(ctx, nil); err != nil {
							fail++
							globalMgr.lastErr.Store(err)
							if fail >= failThresh {
								globalMgr.mu.Lock()
								if globalMgr.db != nil {
									_ = globalMgr.db.Client().Disconnect(context.Background())
									globalMgr.db = nil
								}
								globalMgr.mu.Unlock()
								return
							}
						} else {
							fail = 0
						}
					}
				}
			}()
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
}

// Ready 首次连接成功时会 close；可 select 等待
func Ready() <-chan struct{} {
	return globalMgr.readyCh
}

func Manager() *MongoManager {
	return &globalMgr
}

// Err 最近一次错误
func Err() error {
	if v := globalMgr.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		panic("Mongo not ready: wait Ready() or use TryGetDB()")
	}
	return globalMgr.db
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		return nil, false
	}
	return globalMgr.db, true
}

func WaitReady(ctx context.Context, m *MongoManager) error {
	m.mu.RLock()
	readyCh := m.readyCh
	dbNil := m.db == nil
	m.mu.RUnlock()

	if !dbNil {
		return nil
	}
	if readyCh == nil {
		return fmt.Errorf("mongo manager not started")
	}

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
