package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSON 通用 JSON 对象字段
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	b, err := scanBytes(value)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, j)
}

// GormDataType gorm 通用数据类型
func (JSON) GormDataType() string {
	return "json"
}

// GormDBDataType 按方言选择列类型
func (JSON) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

// StringList JSON 数组字段
type StringList []string

// Value 实现 driver.Valuer 接口
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value interface{}) error {
	b, err := scanBytes(value)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, s)
}

// GormDataType gorm 通用数据类型
func (StringList) GormDataType() string {
	return "json"
}

// GormDBDataType 按方言选择列类型
func (StringList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

func jsonColumnType(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", value)
	}
}
