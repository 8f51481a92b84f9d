package global

import (
	"context"
	"hash/crc32"
	"os"

	"ChatRelay/logger"
	mgoSrv "ChatRelay/service/mgo"
	redis "ChatRelay/service/storage/redis"
	ids "ChatRelay/tools/ids"
)

func ConfigAll() {
	ConfigIds()
	ConfigRedis()
	ConfigMgo()
}

// ConfigIds 雪花 nodeID 从网关 Id 派生，多实例不撞
func ConfigIds() {
	sum := crc32.ChecksumIEEE([]byte(Conf().GatewayNodeId))
	ids.SetNodeID(int64(sum % 1024))
}

func GetJwtSecret() []byte {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return []byte(s)
	}
	// 本地开发缺省值
	return []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=")
}

func ConfigRedis() {
	c := Conf()
	err := redis.InitRedis(redis.Config{
		Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB,
	})
	if err != nil {
		logger.Errorf("[config] redis init err=%v", err)
	}
}

func ConfigMgo() {
	c := Conf()
	cfg := &mgoSrv.Config{
		Uri:         c.MongoUri,
		Database:    c.MongoDatabase,
		Username:    c.MongoUser,
		Password:    c.MongoPassword,
		MaxPoolSize: 20,
	}
	// 异步启动；掉线自动重连
	mgoSrv.StartAsync(context.Background(), cfg)
}
