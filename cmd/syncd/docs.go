package main

//go:generate swag init -g cmd/syncd/main.go -o docs

// @title           fleetsync API
// @version         0.1.0
// @description     ClickUp collection sync, GreenMile route stops, task status and occurrence logging.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
