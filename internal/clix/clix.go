package clix

import (
	"fmt"
	"reflect"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Parse fills the fields of A tagged with `cli:"<flag name>"` from the flags of c.
// Untagged struct fields are descended into, so option structs can be composed.
func Parse[A any](c *cli.Context) (A, error) {
	var opts A
	err := assign(c, reflect.ValueOf(&opts).Elem())
	return opts, err
}

func assign(c *cli.Context, val reflect.Value) error {
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := val.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		tag := fieldType.Tag.Get("cli")
		if tag == "" {
			if field.Kind() == reflect.Struct && field.Type() != timeType {
				if err := assign(c, field); err != nil {
					return err
				}
			}
			continue
		}

		switch field.Type() {
		case durationType:
			field.Set(reflect.ValueOf(c.Duration(tag)))
			continue
		case timeType:
			if t := c.Timestamp(tag); t != nil {
				field.Set(reflect.ValueOf(*t))
			}
			continue
		case reflect.TypeOf([]string{}):
			field.Set(reflect.ValueOf(c.StringSlice(tag)))
			continue
		case reflect.TypeOf([]int{}):
			field.Set(reflect.ValueOf(c.IntSlice(tag)))
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(c.String(tag))
		case reflect.Int:
			field.SetInt(int64(c.Int(tag)))
		case reflect.Int64:
			field.SetInt(c.Int64(tag))
		case reflect.Uint:
			field.SetUint(uint64(c.Uint(tag)))
		case reflect.Bool:
			field.SetBool(c.Bool(tag))
		case reflect.Float64:
			field.SetFloat(c.Float64(tag))
		default:
			return fmt.Errorf("field %s of type %s can not be set from flag %s", fieldType.Name, field.Type(), tag)
		}
	}
	return nil
}
