package httpx

import "golang.org/x/crypto/acme/autocert"

type autoCertManager = autocert.Manager

func newAutoCert(host string) *autoCertManager {
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("assets/cache"),
	}
	if host != "" {
		m.HostPolicy = autocert.HostWhitelist(host)
	}
	return m
}
