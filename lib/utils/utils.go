// Package utils -----------------------------
// @file      : utils.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/30 16:02
// -------------------------------------------
package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ToCmdLine convert strings to [][]byte
func ToCmdLine(cmd ...string) [][]byte {
	args := make([][]byte, len(cmd))
	for i, s := range cmd {
		args[i] = []byte(s)
	}
	return args
}

// ToCmdLineArgs 命令名加任意类型的参数，每个参数都转成原始字节
// 长度在编码时按字节计算，所以 []byte 原样保留
func ToCmdLineArgs(name string, args ...interface{}) [][]byte {
	result := make([][]byte, len(args)+1)
	result[0] = []byte(name)
	for i, arg := range args {
		result[i+1] = ToBytes(arg)
	}
	return result
}

// ToBytes stringifies a single command argument
func ToBytes(arg interface{}) []byte {
	switch v := arg.(type) {
	case nil:
		return []byte{}
	case []byte:
		return v
	case string:
		return []byte(v)
	case int:
		return strconv.AppendInt(nil, int64(v), 10)
	case int32:
		return strconv.AppendInt(nil, int64(v), 10)
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10)
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10)
	case uint64:
		return strconv.AppendUint(nil, v, 10)
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32)
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64)
	case bool:
		if v {
			return []byte("1")
		}
		return []byte("0")
	case fmt.Stringer:
		return []byte(v.String())
	default:
		return []byte(fmt.Sprint(v))
	}
}

// CmdString 日志里显示用，参数太长的截断
func CmdString(cmdLine [][]byte) string {
	const maxArg = 64
	parts := make([]string, len(cmdLine))
	for i, arg := range cmdLine {
		if len(arg) > maxArg {
			parts[i] = string(arg[:maxArg]) + "..."
			continue
		}
		parts[i] = string(arg)
	}
	return strings.Join(parts, " ")
}
