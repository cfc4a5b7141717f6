package models

import (
	"fmt"
	"time"
)

// PriceSource 价格来源
type PriceSource string

const (
	SourceLive     PriceSource = "live"
	SourceFallback PriceSource = "fallback" // 本地合成的估算价格
)

// InstrumentPrice 单个品种的当前市场价格
type InstrumentPrice struct {
	Symbol      string      `json:"symbol"`
	Name        string      `json:"name"`
	Price       float64     `json:"price"`      // USD
	Change24h   float64     `json:"change_24h"` // 24小时涨跌幅 (%)
	Unit        string      `json:"unit"`
	Source      PriceSource `json:"source"`
	LastUpdated time.Time   `json:"last_updated"`
}

// PricePoint is one sample of a history series.
type PricePoint struct {
	Timestamp string  `json:"timestamp"`
	Price     float64 `json:"price"`
}

// MarketDataRow is the list-display shape of a price.
type MarketDataRow struct {
	ID                       string     `json:"id"`
	Symbol                   string     `json:"symbol"`
	Name                     string     `json:"name"`
	CurrentPrice             float64    `json:"current_price"`
	PriceChangePercentage24h float64    `json:"price_change_percentage_24h"`
	Unit                     string     `json:"unit"`
	MarketType               MarketType `json:"market_type"`
	LastUpdated              time.Time  `json:"last_updated"`
}

// Period 历史区间
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period1y  Period = "1y"
)

type periodSpec struct {
	points  int
	spacing time.Duration
	layout  string
}

var periodSpecs = map[Period]periodSpec{
	Period24h: {points: 24, spacing: time.Hour, layout: "15:04"},
	Period7d:  {points: 7, spacing: 24 * time.Hour, layout: "Jan 2"},
	Period30d: {points: 30, spacing: 24 * time.Hour, layout: "Jan 2"},
	Period1y:  {points: 365, spacing: 24 * time.Hour, layout: "Jan 2006"},
}

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if _, ok := periodSpecs[p]; !ok {
		return "", fmt.Errorf("invalid period %q: must be one of 24h, 7d, 30d, 1y", s)
	}
	return p, nil
}

// Points is the number of samples in a series of this period.
func (p Period) Points() int { return periodSpecs[p].points }

// Spacing is the distance between two consecutive samples.
func (p Period) Spacing() time.Duration { return periodSpecs[p].spacing }

// Format renders a sample time for display.
func (p Period) Format(t time.Time) string {
	layout := periodSpecs[p].layout
	if layout == "" {
		layout = time.RFC3339
	}
	return t.Format(layout)
}

// PriceSnapshot stores a sampled price for later inspection.
type PriceSnapshot struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	Symbol    string      `json:"symbol" gorm:"size:16;index;not null"`
	Price     float64     `json:"price" gorm:"not null"`
	Change24h float64     `json:"change_24h"`
	Source    PriceSource `json:"source" gorm:"size:16"`
	CreatedAt time.Time   `json:"created_at" gorm:"index"`
}
