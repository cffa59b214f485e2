package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 调度元数据键，不参与条件匹配
const (
	conditionKeyInterval  = "intervalMinutes"
	conditionKeyCron      = "cron"
	conditionKeyEventType = "eventType"
)

const conditionsSchema = `{
  "type": "object",
  "properties": {
    "intervalMinutes": {"type": "integer", "minimum": 1},
    "cron": {"type": "string", "minLength": 1}
  },
  "additionalProperties": {
    "oneOf": [
      {"type": ["string", "number", "boolean", "null"]},
      {
        "type": "object",
        "minProperties": 1,
        "additionalProperties": false,
        "properties": {
          "$eq":  {"type": ["string", "number", "boolean", "null"]},
          "$ne":  {"type": ["string", "number", "boolean", "null"]},
          "$gt":  {"type": ["string", "number"]},
          "$gte": {"type": ["string", "number"]},
          "$lt":  {"type": ["string", "number"]},
          "$lte": {"type": ["string", "number"]},
          "$in":  {"type": "array", "items": {"type": ["string", "number", "boolean", "null"]}}
        }
      }
    ]
  }
}`

var conditionsValidator = jsonschema.MustCompileString("conditions.json", conditionsSchema)

// Matcher 单个操作符的匹配器
type Matcher interface {
	Match(actual interface{}, present bool) bool
}

type eqMatcher struct{ want interface{} }

func (m eqMatcher) Match(actual interface{}, present bool) bool {
	return present && valuesEqual(actual, m.want)
}

type neMatcher struct{ want interface{} }

func (m neMatcher) Match(actual interface{}, present bool) bool {
	return !present || !valuesEqual(actual, m.want)
}

type cmpMatcher struct {
	op    string
	bound interface{}
}

func (m cmpMatcher) Match(actual interface{}, present bool) bool {
	if !present {
		return false
	}
	c, ok := compareValues(actual, m.bound)
	if !ok {
		return false
	}
	switch m.op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}

type inMatcher struct{ values []interface{} }

func (m inMatcher) Match(actual interface{}, present bool) bool {
	if !present {
		return false
	}
	for _, v := range m.values {
		if valuesEqual(actual, v) {
			return true
		}
	}
	return false
}

// FieldCondition 对单个字段的全部约束（合取）
type FieldCondition struct {
	Field    string
	Matchers []Matcher
}

func (f FieldCondition) Match(payload map[string]interface{}) bool {
	actual, present := payload[f.Field]
	for _, m := range f.Matchers {
		if !m.Match(actual, present) {
			return false
		}
	}
	return true
}

// ConditionSet 解析后的条件文档
type ConditionSet struct {
	Fields          []FieldCondition
	IntervalMinutes int
	Cron            string

	schedule cron.Schedule
}

// ParseConditions 校验并解析条件 JSON；空文档匹配一切
func ParseConditions(raw string) (*ConditionSet, error) {
	set := &ConditionSet{}
	if strings.TrimSpace(raw) == "" {
		return set, nil
	}

	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConditions, err)
	}
	if err := conditionsValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConditions, err)
	}
	obj := doc.(map[string]interface{})

	for key, expected := range obj {
		switch key {
		case conditionKeyInterval:
			n, _ := toFloat(expected)
			set.IntervalMinutes = int(n)
			continue
		case conditionKeyCron:
			expr := expected.(string)
			sched, err := cron.ParseStandard(expr)
			if err != nil {
				return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidConditions, expr, err)
			}
			set.Cron = expr
			set.schedule = sched
			continue
		}
		set.Fields = append(set.Fields, FieldCondition{Field: key, Matchers: buildMatchers(expected)})
	}
	return set, nil
}

func buildMatchers(expected interface{}) []Matcher {
	ops, ok := expected.(map[string]interface{})
	if !ok {
		return []Matcher{eqMatcher{want: normalizeValue(expected)}}
	}
	matchers := make([]Matcher, 0, len(ops))
	for op, v := range ops {
		switch op {
		case "$eq":
			matchers = append(matchers, eqMatcher{want: normalizeValue(v)})
		case "$ne":
			matchers = append(matchers, neMatcher{want: normalizeValue(v)})
		case "$gt", "$gte", "$lt", "$lte":
			matchers = append(matchers, cmpMatcher{op: op, bound: normalizeValue(v)})
		case "$in":
			list, _ := v.([]interface{})
			vals := make([]interface{}, 0, len(list))
			for _, item := range list {
				vals = append(vals, normalizeValue(item))
			}
			matchers = append(matchers, inMatcher{values: vals})
		}
	}
	return matchers
}

// Match 所有字段条件均满足时返回 true
func (c *ConditionSet) Match(payload map[string]interface{}) bool {
	if c == nil {
		return true
	}
	for _, f := range c.Fields {
		if !f.Match(payload) {
			return false
		}
	}
	return true
}

// ReferencesEvent 规则未声明 eventType 过滤，或过滤接受该事件类型
func (c *ConditionSet) ReferencesEvent(eventType string) bool {
	if c == nil {
		return true
	}
	for _, f := range c.Fields {
		if f.Field == conditionKeyEventType {
			return f.Match(map[string]interface{}{conditionKeyEventType: eventType})
		}
	}
	return true
}

// HasEventFilter 是否声明了 eventType 条件
func (c *ConditionSet) HasEventFilter() bool {
	if c == nil {
		return false
	}
	for _, f := range c.Fields {
		if f.Field == conditionKeyEventType {
			return true
		}
	}
	return false
}

// NextRun 计算下一次执行时间：cron 优先，否则 now + intervalMinutes（缺省 defaultMinutes）
func (c *ConditionSet) NextRun(now time.Time, defaultMinutes int) time.Time {
	if c != nil && c.schedule != nil {
		return c.schedule.Next(now)
	}
	minutes := defaultMinutes
	if c != nil && c.IntervalMinutes > 0 {
		minutes = c.IntervalMinutes
	}
	if minutes <= 0 {
		minutes = 1440
	}
	return now.Add(time.Duration(minutes) * time.Minute)
}

func decodeJSON(raw string) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// normalizeValue 将 json.Number 统一为 float64
func normalizeValue(v interface{}) interface{} {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err == nil {
			return f
		}
		return n.String()
	}
	return v
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// valuesEqual 严格相等：数值跨 int/float 比较，其余类型必须一致
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// compareValues 数值按大小、字符串按字典序；类型不一致时不可比较
func compareValues(a, b interface{}) (int, bool) {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), true
	}
	return 0, false
}
