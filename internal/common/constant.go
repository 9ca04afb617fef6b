package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound ops requests.
const AccessTokenHeaderName = "access_token"

// NodeHealthService is the name reported by the gRPC health service for the
// payment node connection.
const NodeHealthService = "zapzap.node"
