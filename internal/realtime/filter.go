package realtime

import (
	"fmt"
	"strings"

	"nexchat/internal/model"
)

// Filter 订阅过滤条件
// 目前只支持 user_id 列上的集合成员判断，零值表示不过滤
type Filter struct {
	Column string
	Values []string
}

// InUserIDs 构造 user_id=in.(...) 过滤条件
func InUserIDs(ids ...string) Filter {
	return Filter{Column: "user_id", Values: ids}
}

// ParseFilter 解析 column=in.(v1,v2) 形式的过滤串
// 空串返回零值 Filter
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Filter{}, nil
	}

	col, expr, ok := strings.Cut(s, "=")
	if !ok {
		return Filter{}, fmt.Errorf("filter %q: missing '='", s)
	}
	col = strings.TrimSpace(col)
	if col != "user_id" {
		return Filter{}, fmt.Errorf("filter %q: unsupported column %q", s, col)
	}

	list, ok := strings.CutPrefix(strings.TrimSpace(expr), "in.(")
	if !ok || !strings.HasSuffix(list, ")") {
		return Filter{}, fmt.Errorf("filter %q: expected in.(...)", s)
	}
	list = strings.TrimSuffix(list, ")")

	var values []string
	for _, v := range strings.Split(list, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return Filter{}, fmt.Errorf("filter %q: empty value list", s)
	}
	return Filter{Column: col, Values: values}, nil
}

// IsZero 是否为不过滤
func (f Filter) IsZero() bool {
	return f.Column == ""
}

// Match 判断行是否满足过滤条件
func (f Filter) Match(row *model.Message) bool {
	if f.IsZero() {
		return true
	}
	if row == nil {
		return false
	}
	for _, v := range f.Values {
		if row.UserID == v {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s=in.(%s)", f.Column, strings.Join(f.Values, ","))
}
