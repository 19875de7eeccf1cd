package conf

import (
	"fmt"
)

type Bootstrap struct {
	Server  *Server  `yaml:"server" json:"server"`
	Data    *Data    `yaml:"data" json:"data"`
	Client  *Client  `yaml:"client" json:"client"`
	Gateway *Gateway `yaml:"gateway" json:"gateway"`
	Log     *Log     `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Addr    string `yaml:"addr" json:"addr"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver          string `yaml:"driver" json:"driver"`
		Source          string `yaml:"source" json:"source"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"redis" json:"redis"`
}

// Client 下游服务客户端配置(防腐层)
type Client struct {
	PassportService     *PassportService     `yaml:"passport_service" json:"passport_service"`
	NotificationService *NotificationService `yaml:"notification_service" json:"notification_service"`
}

type PassportService struct {
	Addr    string `yaml:"addr" json:"addr"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

type NotificationService struct {
	Addr    string `yaml:"addr" json:"addr"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// Gateway 支付网关配置,凭证在构造时显式注入,不使用进程级全局客户端
type Gateway struct {
	Card        *CardGateway        `yaml:"card" json:"card"`
	MobileMoney *MobileMoneyGateway `yaml:"mobile_money" json:"mobile_money"`
}

type CardGateway struct {
	ApiBase       string `yaml:"api_base" json:"api_base"`
	ApiKey        string `yaml:"api_key" json:"api_key"`
	WebhookSecret string `yaml:"webhook_secret" json:"webhook_secret"`
	ReturnURL     string `yaml:"return_url" json:"return_url"`
}

type MobileMoneyGateway struct {
	ApiBase    string `yaml:"api_base" json:"api_base"`
	ApiKey     string `yaml:"api_key" json:"api_key"`
	MerchantID string `yaml:"merchant_id" json:"merchant_id"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Client == nil || b.Client.PassportService == nil || b.Client.PassportService.Addr == "" {
		return fmt.Errorf("client.passport_service.addr is required")
	}
	if b.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}
	if b.Gateway.Card == nil || b.Gateway.Card.ApiBase == "" {
		return fmt.Errorf("gateway.card.api_base is required")
	}
	if b.Gateway.Card.WebhookSecret == "" {
		return fmt.Errorf("gateway.card.webhook_secret is required")
	}
	if b.Gateway.MobileMoney == nil || b.Gateway.MobileMoney.ApiBase == "" {
		return fmt.Errorf("gateway.mobile_money.api_base is required")
	}
	return nil
}
