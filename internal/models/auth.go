package models

import "github.com/golang-jwt/jwt/v5"

type LoginRequest struct {
	OperatorID int64  `json:"operator_id"`
	Password   string `json:"password"`
}

type LoginResponse struct {
	Token      string `json:"token"`
	OperatorID int64  `json:"operator_id"`
}

// Claims defines the JWT claims structure
type Claims struct {
	OperatorID int64  `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}
