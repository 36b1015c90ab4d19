package model

import (
	"database/sql/driver"
	"encoding/json"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Output 推理服务的结构化输出
// 所有字段均为可选，缺失字段为 nil，由评分器按 schema 校验
type Output struct {
	Intent          *string  `json:"intent,omitempty"`
	Tone            *string  `json:"tone,omitempty"`
	Urgency         *string  `json:"urgency,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`

	// Invalid 类型不符的字段，保留原值供一致性校验
	Invalid map[string]interface{} `json:"-"`
}

// UnmarshalJSON 逐字段解码，类型不符的字段放入 Invalid，null 视为缺失
func (o *Output) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*o = Output{}
	for key, v := range raw {
		if v == nil {
			continue
		}
		switch key {
		case "intent", "tone", "urgency":
			str, ok := v.(string)
			if !ok {
				o.addInvalid(key, v)
				continue
			}
			switch key {
			case "intent":
				o.Intent = &str
			case "tone":
				o.Tone = &str
			default:
				o.Urgency = &str
			}
		case "confidence_score":
			f, ok := v.(float64)
			if !ok {
				o.addInvalid(key, v)
				continue
			}
			o.ConfidenceScore = &f
		}
	}
	return nil
}

// MarshalJSON 输出所有已出现的字段，包括类型不符的字段
func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Fields())
}

func (o *Output) addInvalid(key string, v interface{}) {
	if o.Invalid == nil {
		o.Invalid = make(map[string]interface{})
	}
	o.Invalid[key] = v
}

// Fields 返回已出现的字段
func (o *Output) Fields() map[string]interface{} {
	fields := make(map[string]interface{}, 4)
	if o == nil {
		return fields
	}
	if o.Intent != nil {
		fields["intent"] = *o.Intent
	}
	if o.Tone != nil {
		fields["tone"] = *o.Tone
	}
	if o.Urgency != nil {
		fields["urgency"] = *o.Urgency
	}
	if o.ConfidenceScore != nil {
		fields["confidence_score"] = *o.ConfidenceScore
	}
	for key, v := range o.Invalid {
		if _, ok := fields[key]; !ok {
			fields[key] = v
		}
	}
	return fields
}

// IsEmptyValue 字段值为空（空字符串视为空，数值不为空）
func IsEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

// Value 实现 driver.Valuer 接口
func (o Output) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (o *Output) Scan(value interface{}) error {
	b, err := scanBytes(value)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, o)
}

// GormDataType gorm 通用数据类型
func (Output) GormDataType() string {
	return "json"
}

// GormDBDataType 按方言选择列类型
func (Output) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

// StringPtr 返回字符串指针
func StringPtr(s string) *string {
	return &s
}

// Float64Ptr 返回浮点数指针
func Float64Ptr(f float64) *float64 {
	return &f
}
