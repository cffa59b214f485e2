package services

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateRenderer 基于 Liquid 的命名字段渲染，按 key 缓存已解析模板
type TemplateRenderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

func NewTemplateRenderer() *TemplateRenderer {
	engine := liquid.NewEngine()
	// {{ budget | money }} -> 4000 / 1250.5
	engine.RegisterFilter("money", func(v interface{}) string {
		if f, ok := toFloat(v); ok {
			return formatAmount(f)
		}
		return fmt.Sprint(v)
	})
	return &TemplateRenderer{engine: engine}
}

// Validate 只做语法检查
func (r *TemplateRenderer) Validate(src string) error {
	if _, err := r.engine.ParseString(src); err != nil {
		return err
	}
	return nil
}

// Render 渲染模板；cacheKey 为空时不缓存
func (r *TemplateRenderer) Render(cacheKey, src string, bindings map[string]interface{}) (string, error) {
	var tpl *liquid.Template
	if cacheKey != "" {
		if cached, ok := r.cache.Load(cacheKey); ok {
			tpl = cached.(*liquid.Template)
		}
	}
	if tpl == nil {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		tpl = parsed
		if cacheKey != "" {
			r.cache.Store(cacheKey, tpl)
		}
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// formatAmount 去掉多余的小数位：4000 -> "4000"，1250.5 -> "1250.5"
func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
