package simulator

import (
	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/grpcclient"
	"github.com/torosent/scensim/internal/httpclient"
	"github.com/torosent/scensim/internal/sse"
	"github.com/torosent/scensim/internal/websocket"
)

// DefaultCatalog returns a catalog with every built-in adaptor type.
func DefaultCatalog() *adaptor.Catalog {
	catalog := adaptor.NewCatalog()
	builtins := []struct {
		info    adaptor.TypeInfo
		factory adaptor.Factory
	}{
		{adaptor.EchoTypeInfo(), adaptor.NewEcho},
		{httpclient.TypeInfo(), httpclient.New},
		{websocket.TypeInfo(), websocket.New},
		{grpcclient.TypeInfo(), grpcclient.New},
		{sse.TypeInfo(), sse.New},
	}
	for _, b := range builtins {
		// Names are distinct constants; Register only fails on duplicates.
		_ = catalog.Register(b.info, b.factory)
	}
	return catalog
}
