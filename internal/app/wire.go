// Package app assembles the pipeline and its collaborators from configuration.
package app

import (
	"context"
	"log/slog"
	"time"

	"DeFiIntent-Chain/internal/config"
	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/market"
	"DeFiIntent-Chain/internal/market/ethereum"
	"DeFiIntent-Chain/internal/observability/alerting"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/pkg/logger"
)

// Components 是按配置构建出的流水线依赖。
type Components struct {
	Catalog  *defi.Catalog
	Market   market.Provider
	Pipeline *pipeline.Pipeline
	closers  []func()
}

// Close 释放数据源连接。
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build 加载目录与行情数据源并构建流水线。
func Build(ctx context.Context, cfg *config.Config, opts ...pipeline.Option) (*Components, error) {
	c := &Components{}
	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	c.Catalog = catalog

	provider, err := c.buildMarket(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Market = provider

	base := []pipeline.Option{pipeline.WithCatalog(catalog), pipeline.WithMarket(provider)}
	c.Pipeline = pipeline.New(cfg.Pipeline, append(base, opts...)...)
	return c, nil
}

// LoadCatalog 读取配置的目录文件，未配置时使用内置目录。
func LoadCatalog(cfg *config.Config) (*defi.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return defi.DefaultCatalog(), nil
	}
	return defi.LoadCatalog(cfg.Catalog.Path)
}

func (c *Components) buildMarket(ctx context.Context, cfg *config.Config) (market.Provider, error) {
	log := logger.Named("app")

	var static *market.StaticProvider
	if cfg.Market.StaticPath != "" {
		loaded, err := market.LoadStatic(cfg.Market.StaticPath)
		if err != nil {
			return nil, err
		}
		static = loaded
	} else {
		static = market.NewStaticProvider(market.DefaultStaticData())
	}

	var provider market.Provider = static
	if cfg.Market.Driver == "ethereum" {
		chain, err := ethereum.Dial(ctx, ethereum.Config{
			Chain:  cfg.Market.Ethereum.Chain,
			RPCURL: cfg.Market.Ethereum.RPCURL,
		}, c.Catalog)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, chain.Close)
		// 链上节点不提供价格，价格与未覆盖的链回落到静态数据。
		provider = market.Fallback{chain, static}
		log.Info("已连接链上数据源", slog.String("chain", chain.Chain()))
	}

	if cfg.Market.Cache.Address != "" {
		cache, err := market.NewRedisCache(market.RedisCacheConfig{
			Address:  cfg.Market.Cache.Address,
			Password: cfg.Market.Cache.Password,
			DB:       cfg.Market.Cache.DB,
			Prefix:   cfg.Market.Cache.Prefix,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = cache.Close() })
		provider = market.NewCachedProvider(provider, cache, time.Duration(cfg.Market.Cache.TTLSeconds)*time.Second)
	}
	return provider, nil
}

// Alerts 按配置构建告警分发器，未启用时返回 nil。
func Alerts(cfg *config.Config) *alerting.FanoutDispatcher {
	if !cfg.Alerting.Enabled {
		return nil
	}
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Format: alerting.Channel(cfg.Alerting.Format),
		})
	}
	return alerting.NewFanout(xerrors.Severity(cfg.Alerting.MinSeverity), notifiers...)
}
