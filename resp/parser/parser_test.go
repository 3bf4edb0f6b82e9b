package parser

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/utils"
	"github.com/mloughran/em-hiredis/resp/reply"
)

func TestParseStream(t *testing.T) {
	replies := []resp.Reply{
		reply.MakeIntReply(1),
		reply.MakeStatusReply("OK"),
		reply.MakeErrReply("ERR unknown"),
		reply.MakeBulkReply([]byte("a\r\nb")), // test binary safe
		reply.MakeBulkReply([]byte{}),
		reply.MakeNullBulkReply(),
		reply.MakeArrayReply([]resp.Reply{
			reply.MakeBulkReply([]byte("a")),
			reply.MakeBulkReply([]byte("\r\n")),
		}),
		reply.MakeArrayReply([]resp.Reply{}),
		reply.MakeNullArrayReply(),
	}
	reqs := bytes.Buffer{}
	for _, re := range replies {
		reqs.Write(re.ToBytes())
	}
	reqs.Write([]byte("set a a" + reply.CRLF)) // text protocol is not RESP

	ch := ParseStream(bytes.NewReader(reqs.Bytes()))
	i := 0
	for payload := range ch {
		if payload.Err != nil {
			require.Equal(t, len(replies), i, "unexpected error before all replies were read: %v", payload.Err)
			assert.True(t, errors.Is(payload.Err, ErrProtocol))
			continue
		}
		require.Less(t, i, len(replies))
		assert.Equal(t, replies[i].ToBytes(), payload.Data.ToBytes())
		i++
	}
	assert.Equal(t, len(replies), i)
}

func TestParseStreamEOF(t *testing.T) {
	ch := ParseStream(bytes.NewReader([]byte("+OK\r\n$5\r\nhel")))
	first := <-ch
	require.NoError(t, first.Err)
	assert.Equal(t, "+OK\r\n", string(first.Data.ToBytes()))
	second := <-ch
	assert.ErrorIs(t, second.Err, io.EOF)
	_, open := <-ch
	assert.False(t, open)
}

func TestReaderByteByByte(t *testing.T) {
	nested := reply.MakeArrayReply([]resp.Reply{
		reply.MakeStatusReply("OK"),
		reply.MakeArrayReply([]resp.Reply{
			reply.MakeIntReply(-42),
			reply.MakeNullBulkReply(),
			reply.MakeBulkReply([]byte{0x00, 0xff, '\r', '\n'}),
		}),
		reply.MakeErrReply("WRONGTYPE nope"),
	})
	data := append(nested.ToBytes(), reply.MakeIntReply(7).ToBytes()...)

	r := NewReader()
	var got []resp.Reply
	for _, b := range data {
		r.Feed([]byte{b})
		for {
			re, ok, err := r.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, re)
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, nested.ToBytes(), got[0].ToBytes())
	assert.Equal(t, int64(7), got[1].(*reply.IntReply).Code)
	assert.Equal(t, 0, r.Buffered())
}

func TestReaderDrainsSeveralRepliesFromOneRead(t *testing.T) {
	r := NewReader()
	r.Feed([]byte("+OK\r\n:1\r\n$3\r\nbar\r\n+PART"))

	var got []string
	for {
		re, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(re.ToBytes()))
	}
	assert.Equal(t, []string{"+OK\r\n", ":1\r\n", "$3\r\nbar\r\n"}, got)

	r.Feed([]byte("IAL\r\n"))
	re, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "PARTIAL", re.(*reply.StatusReply).Status)
}

func TestReaderErrorReplyIsAValue(t *testing.T) {
	re, err := ParseOne([]byte("-ERR something bad\r\n"))
	require.NoError(t, err)
	errReply, ok := re.(*reply.StandardErrReply)
	require.True(t, ok)
	assert.Equal(t, "ERR something bad", errReply.Error())
}

func TestReaderMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown type":    "?what\r\n",
		"bare newline":    "+OK\n",
		"bad integer":     ":abc\r\n",
		"bad bulk length": "$-5\r\n",
		"bulk terminator": "$3\r\nfooXY",
		"bad array count": "*x\r\n",
		"huge bulk":       "$9223372036854775807\r\nabc\r\n",
		"oversized bulk":  "$536870913\r\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewReader()
			r.Feed([]byte(in))
			_, ok, err := r.Next()
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	args := [][]byte{
		[]byte("key\r\nwith crlf"),
		{0x00, 0x01, 0xfe, 0xff},
		[]byte("ünïcödé"),
		{},
	}
	cmdLine := append(utils.ToCmdLine("SET"), args...)
	encoded := reply.MakeMultiBulkReply(cmdLine).ToBytes()

	decoded, err := ParseOne(encoded)
	require.NoError(t, err)
	arr, ok := decoded.(*reply.ArrayReply)
	require.True(t, ok)
	got, ok := arr.Args()
	require.True(t, ok)
	assert.Equal(t, cmdLine, got)
	// 长度按字节算
	assert.Contains(t, string(encoded), "$11\r\nünïcödé\r\n")
}
