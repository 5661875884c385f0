package opslog

import (
	"context"
	"time"
)

type ctxKey int

const clientCtxKey ctxKey = 1

func WithClient(ctx context.Context, c *Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientCtxKey, c)
}

func ClientFromContext(ctx context.Context) *Client {
	if ctx == nil {
		return nil
	}
	v := ctx.Value(clientCtxKey)
	c, _ := v.(*Client)
	return c
}

// BestEffort writes one entry with a short timeout and drops any error.
func BestEffort(c *Client, action, level string, details map[string]any) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Write(ctx, Entry{Action: action, Level: level, Details: details})
}

func BestEffortCtx(ctx context.Context, action, level string, details map[string]any) {
	BestEffort(ClientFromContext(ctx), action, level, details)
}
