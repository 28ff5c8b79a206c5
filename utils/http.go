package utils

import (
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-backend/types"
)

func ResponseHeaders(resp *fasthttp.Response) types.Headers {
	headers := types.NewHeaders()
	resp.Header.VisitAll(func(key, value []byte) {
		headers.Set(string(key), string(value))
	})
	return headers
}

func ApplyHeaders(req *fasthttp.Request, headers types.Headers) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
