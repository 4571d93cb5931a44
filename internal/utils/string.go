package utils

import (
	"reflect"
	"strings"
)

// TrimAllStringFields returns a copy of input with every reachable exported
// string field and slice element trimmed. Request bodies go through
// it before validation.
func TrimAllStringFields[T any](input T) T {
	v := reflect.ValueOf(&input).Elem()
	trimValue(v)
	return input
}

func trimValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		elem := reflect.New(v.Elem().Type())
		elem.Elem().Set(v.Elem())
		trimValue(elem.Elem())
		if v.CanSet() {
			v.Set(elem)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			trimValue(v.Field(i))
		}
	case reflect.Slice:
		if v.IsNil() || !v.CanSet() {
			return
		}
		cp := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(cp, v)
		for i := 0; i < cp.Len(); i++ {
			trimValue(cp.Index(i))
		}
		v.Set(cp)
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	}
}
