// Package cmd -----------------------------
// @file      : format.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 10:15
// -------------------------------------------
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/resp/reply"
)

// formatReply 和 redis-cli 一样的输出格式
//
//	1) "a"
//	2) 1) (integer) 1
//	   2) (nil)
func formatReply(r resp.Reply) string {
	var sb strings.Builder
	writeReply(&sb, r, 0)
	return sb.String()
}

func writeReply(sb *strings.Builder, r resp.Reply, indent int) {
	arr, ok := r.(*reply.ArrayReply)
	if !ok {
		sb.WriteString(formatScalar(r))
		sb.WriteByte('\n')
		return
	}
	if len(arr.Replies) == 0 {
		sb.WriteString("(empty array)\n")
		return
	}
	width := len(strconv.Itoa(len(arr.Replies)))
	for i, elem := range arr.Replies {
		if i > 0 {
			sb.WriteString(strings.Repeat(" ", indent))
		}
		label := fmt.Sprintf("%*d) ", width, i+1)
		sb.WriteString(label)
		writeReply(sb, elem, indent+len(label))
	}
}

func formatScalar(r resp.Reply) string {
	switch v := r.(type) {
	case *reply.StatusReply:
		return v.Status
	case *reply.IntReply:
		return "(integer) " + strconv.FormatInt(v.Code, 10)
	case *reply.BulkReply:
		return strconv.Quote(string(v.Arg))
	case *reply.NullBulkReply, *reply.NullArrayReply:
		return "(nil)"
	case reply.ErrorReply:
		return "(error) " + v.Error()
	}
	return strings.TrimSuffix(string(r.ToBytes()), reply.CRLF)
}
