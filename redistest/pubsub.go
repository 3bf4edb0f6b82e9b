// Package redistest -----------------------------
// @file      : pubsub.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/31 09:45
// -------------------------------------------
package redistest

import (
	"github.com/gobwas/glob"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/resp/reply"
)

type patternSubs struct {
	matcher  glob.Glob
	sessions map[*Session]struct{}
}

func bulk(s string) resp.Reply {
	return reply.MakeBulkReply([]byte(s))
}

// 订阅命令逐个 key 回复确认，所以返回 nil
func execSubscribe(s *Server, sess *Session, args [][]byte) resp.Reply {
	for _, arg := range args {
		channel := string(arg)
		if _, ok := sess.channels[channel]; !ok {
			sess.channels[channel] = struct{}{}
			subs, ok := s.channels[channel]
			if !ok {
				subs = make(map[*Session]struct{})
				s.channels[channel] = subs
			}
			subs[sess] = struct{}{}
		}
		sess.push(bulk("subscribe"), bulk(channel), reply.MakeIntReply(int64(sess.subscribed())))
	}
	return &reply.NoReply{}
}

func execPSubscribe(s *Server, sess *Session, args [][]byte) resp.Reply {
	for _, arg := range args {
		pattern := string(arg)
		if _, ok := sess.patterns[pattern]; !ok {
			subs, ok := s.patterns[pattern]
			if !ok {
				matcher, err := glob.Compile(pattern)
				if err != nil {
					return reply.MakeErrReply("ERR invalid pattern " + pattern)
				}
				subs = &patternSubs{matcher: matcher, sessions: make(map[*Session]struct{})}
				s.patterns[pattern] = subs
			}
			sess.patterns[pattern] = struct{}{}
			subs.sessions[sess] = struct{}{}
		}
		sess.push(bulk("psubscribe"), bulk(pattern), reply.MakeIntReply(int64(sess.subscribed())))
	}
	return &reply.NoReply{}
}

func execUnsubscribe(s *Server, sess *Session, args [][]byte) resp.Reply {
	channels := keysOf(args, sess.channels)
	if len(channels) == 0 {
		sess.push(bulk("unsubscribe"), reply.MakeNullBulkReply(), reply.MakeIntReply(int64(sess.subscribed())))
		return &reply.NoReply{}
	}
	for _, channel := range channels {
		s.removeChannel(sess, channel)
		sess.push(bulk("unsubscribe"), bulk(channel), reply.MakeIntReply(int64(sess.subscribed())))
	}
	return &reply.NoReply{}
}

func execPUnsubscribe(s *Server, sess *Session, args [][]byte) resp.Reply {
	patterns := keysOf(args, sess.patterns)
	if len(patterns) == 0 {
		sess.push(bulk("punsubscribe"), reply.MakeNullBulkReply(), reply.MakeIntReply(int64(sess.subscribed())))
		return &reply.NoReply{}
	}
	for _, pattern := range patterns {
		s.removePattern(sess, pattern)
		sess.push(bulk("punsubscribe"), bulk(pattern), reply.MakeIntReply(int64(sess.subscribed())))
	}
	return &reply.NoReply{}
}

// keysOf 没有参数表示全部
func keysOf(args [][]byte, current map[string]struct{}) []string {
	if len(args) > 0 {
		keys := make([]string, len(args))
		for i, arg := range args {
			keys[i] = string(arg)
		}
		return keys
	}
	keys := make([]string, 0, len(current))
	for key := range current {
		keys = append(keys, key)
	}
	return keys
}

func (s *Server) removeChannel(sess *Session, channel string) {
	delete(sess.channels, channel)
	if subs, ok := s.channels[channel]; ok {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(s.channels, channel)
		}
	}
}

func (s *Server) removePattern(sess *Session, pattern string) {
	delete(sess.patterns, pattern)
	if subs, ok := s.patterns[pattern]; ok {
		delete(subs.sessions, sess)
		if len(subs.sessions) == 0 {
			delete(s.patterns, pattern)
		}
	}
}

func (s *Server) unsubscribeAll(sess *Session) {
	for channel := range sess.channels {
		s.removeChannel(sess, channel)
	}
	for pattern := range sess.patterns {
		s.removePattern(sess, pattern)
	}
}

// PUBLISH channel message, returns the number of receivers
func execPublish(s *Server, sess *Session, args [][]byte) resp.Reply {
	channel, message := string(args[0]), args[1]
	n := 0
	for sub := range s.channels[channel] {
		sub.push(bulk("message"), bulk(channel), reply.MakeBulkReply(message))
		n++
	}
	for pattern, subs := range s.patterns {
		if !subs.matcher.Match(channel) {
			continue
		}
		for sub := range subs.sessions {
			sub.push(bulk("pmessage"), bulk(pattern), bulk(channel), reply.MakeBulkReply(message))
			n++
		}
	}
	return reply.MakeIntReply(int64(n))
}

// Publish sends a message as if a client had issued PUBLISH
func (s *Server) Publish(channel, message string) int64 {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return execPublish(s, nil, [][]byte{[]byte(channel), []byte(message)}).(*reply.IntReply).Code
}

func init() {
	registerCommand("Subscribe", execSubscribe, -2)
	registerCommand("PSubscribe", execPSubscribe, -2)
	registerCommand("Unsubscribe", execUnsubscribe, -1)
	registerCommand("PUnsubscribe", execPUnsubscribe, -1)
	registerCommand("Publish", execPublish, 3)
}
