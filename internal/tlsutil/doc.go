// Package tlsutil 为集成后端（api_call、graphql、comfyui）提供统一的
// HTTP 客户端：TLS 1.2 起步，仅 AEAD 密码套件，连接复用。
package tlsutil
