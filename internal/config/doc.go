// Package config loads ethbank settings.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults
//  2. a YAML file (ethbank.yaml when present, or an explicit --config path)
//  3. a .env file, read with godotenv
//  4. ETHBANK_* process environment variables
//
// The merged result is validated against an embedded CUE schema before use.
package config
