package grpcclient

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
)

// loadService parses protoPath and returns the named service.
func loadService(protoPath, serviceName string) (*desc.ServiceDescriptor, error) {
	protoPath = strings.TrimSpace(protoPath)
	if protoPath == "" {
		return nil, fmt.Errorf("grpc proto_file is required")
	}
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		return nil, fmt.Errorf("grpc service is required")
	}
	parser := protoparse.Parser{
		ImportPaths: []string{filepath.Dir(protoPath)},
	}
	files, err := parser.ParseFiles(filepath.Base(protoPath))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no descriptors parsed from %s", protoPath)
	}
	for _, file := range files {
		for _, svc := range file.GetServices() {
			if matchesServiceName(svc, serviceName) {
				return svc, nil
			}
		}
	}
	return nil, fmt.Errorf("service %s not found in %s", serviceName, protoPath)
}

func matchesServiceName(svc *desc.ServiceDescriptor, target string) bool {
	if target == "" {
		return false
	}
	if svc.GetFullyQualifiedName() == target {
		return true
	}
	return svc.GetName() == target || strings.HasSuffix(target, "."+svc.GetName())
}

// findUnaryMethod resolves a method of svc by name. Streaming methods are
// not dialog-addressable.
func findUnaryMethod(svc *desc.ServiceDescriptor, name string) (*desc.MethodDescriptor, error) {
	method := svc.FindMethodByName(strings.TrimSpace(name))
	if method == nil {
		return nil, fmt.Errorf("method %s not found in service %s", name, svc.GetFullyQualifiedName())
	}
	if method.IsClientStreaming() || method.IsServerStreaming() {
		return nil, fmt.Errorf("method %s is streaming; only unary calls are supported", name)
	}
	return method, nil
}

func fullMethodName(method *desc.MethodDescriptor) string {
	return fmt.Sprintf("/%s/%s", method.GetService().GetFullyQualifiedName(), method.GetName())
}

func buildDynamicRequest(method *desc.MethodDescriptor, payload []byte) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(method.GetInputType())
	body := strings.TrimSpace(string(payload))
	if body == "" {
		body = "{}"
	}
	if err := msg.UnmarshalJSON([]byte(body)); err != nil {
		return nil, err
	}
	return msg, nil
}
