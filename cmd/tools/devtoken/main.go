package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/service/auth"
)

func main() {
	_ = godotenv.Load()
	logging.Init(logging.Config{Level: "info", Format: "console"})

	user := flag.String("user", "", "用户 ID (必填)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token 有效期")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "签名密钥，默认读取 JWT_SECRET")
	api := flag.String("api", "", "API 地址，如 http://localhost:8080；与 -with 一起使用")
	with := flag.String("with", "", "对方用户 ID，提供时通过 API 查找或创建会话")
	flag.Parse()

	if strings.TrimSpace(*user) == "" || *secret == "" {
		flag.Usage()
		logging.Fatal().Msg("请通过 -user 指定用户，并配置 JWT_SECRET 或 -secret")
	}

	token, err := auth.NewService(*secret, *ttl).Issue(*user)
	if err != nil {
		logging.Fatal().Err(err).Msg("签发 token 失败")
	}
	fmt.Println(token)

	if *api == "" || *with == "" {
		return
	}

	var out struct {
		Success bool `json:"success"`
		Data    struct {
			ID string `json:"id"`
		} `json:"data"`
		Message string `json:"message"`
	}
	resp, err := resty.New().
		SetBaseURL(strings.TrimRight(*api, "/")).
		SetTimeout(10 * time.Second).
		R().
		SetAuthToken(token).
		SetBody(map[string]string{"participantId": *with}).
		SetResult(&out).
		SetError(&out).
		Post("/api/chats")
	if err != nil {
		logging.Fatal().Err(err).Msg("请求 API 失败")
	}
	if resp.IsError() {
		logging.Fatal().Int("status", resp.StatusCode()).Str("message", out.Message).Msg("创建会话失败")
	}
	logging.Info().Str("chat_id", out.Data.ID).Int("status", resp.StatusCode()).Msg("会话就绪")
}
