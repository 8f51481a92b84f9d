package global

import (
	"os"
	"strconv"
)

// AppConfig 进程级配置；env 覆盖默认值
type AppConfig struct {
	GatewayNodeId string // 节点的Id
	Port          int    // http 启动端口

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoUri      string
	MongoDatabase string
	MongoUser     string
	MongoPassword string

	BackplaneDriver string // redis | nats
	NatsURL         string

	EnforceMembership bool // 发消息前校验房间成员
}

var appConf *AppConfig

// Conf 读取进程配置（首次调用时从 env 加载）
func Conf() *AppConfig {
	if appConf == nil {
		appConf = &AppConfig{
			GatewayNodeId:     envOr("GATEWAY_ID", "chat_gw-1"),
			Port:              envIntOr("HTTP_PORT", 8080),
			RedisAddr:         envOr("REDIS_ADDR", "127.0.0.1:6379"),
			RedisPassword:     os.Getenv("REDIS_PASSWORD"),
			RedisDB:           envIntOr("REDIS_DB", 0),
			MongoUri:          envOr("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase:     envOr("MONGO_DB", "chatRelay"),
			MongoUser:         os.Getenv("MONGO_USER"),
			MongoPassword:     os.Getenv("MONGO_PASSWORD"),
			BackplaneDriver:   envOr("BACKPLANE_DRIVER", "redis"),
			NatsURL:           envOr("NATS_URL", "nats://127.0.0.1:4222"),
			EnforceMembership: envBoolOr("ENFORCE_MEMBERSHIP", false),
		}
	}
	return appConf
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
