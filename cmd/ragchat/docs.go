package main

// General API documentation for swaggo. Run `swag init -g cmd/ragchat/docs.go` to regenerate.
//
// @title           ragchat API
// @version         1.0
// @description     Model provisioning and a streaming chat session over a local LLM engine.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
