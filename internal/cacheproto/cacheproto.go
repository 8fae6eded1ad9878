// Package cacheproto is the message catalog shared by cache clients and
// servers.
package cacheproto

import "github.com/seandlg/protoframe/internal/protoframe"

const Namespace = "cache"

// Protocol is the descriptor both peers build their connectors from.
var Protocol = protoframe.Protocol{Namespace: Namespace}

type SetRequest struct {
	Key   string `json:"key" cbor:"key"`
	Value string `json:"value" cbor:"value"`
}

type DeleteRequest struct {
	Key string `json:"key" cbor:"key"`
}

type GetRequest struct {
	Key string `json:"key" cbor:"key"`
}

// GetResponse carries a nil Value for missing keys, encoded as null.
type GetResponse struct {
	Value *string `json:"value" cbor:"value"`
}

var (
	Set    = protoframe.NewTell[SetRequest]("set")
	Delete = protoframe.NewTell[DeleteRequest]("delete")
	Get    = protoframe.NewAsk[GetRequest, GetResponse]("get")
)
