package downstream

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Publisher and Bridge share one message shape:
//
//	message PublishContentRequest {
//	  string content = 1;
//	  map<string, string> metadata = 2;
//	}
//	message PublishContentResponse {
//	  string message = 1;
//	  string publisher_response = 2;
//	  bool success = 3;
//	}
type contentSchema struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor

	content  protoreflect.FieldDescriptor
	metadata protoreflect.FieldDescriptor

	message           protoreflect.FieldDescriptor
	publisherResponse protoreflect.FieldDescriptor
	success           protoreflect.FieldDescriptor
}

var (
	schemaOnce sync.Once
	schema     *contentSchema
	schemaErr  error
)

func loadSchema() (*contentSchema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = buildSchema()
	})
	return schema, schemaErr
}

func buildSchema() (*contentSchema, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("relay/downstream/v1/content.proto"),
		Package: proto.String("relay.downstream.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("PublishContentRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("content", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					{
						Name:     proto.String("metadata"),
						Number:   proto.Int32(2),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName: proto.String(".relay.downstream.v1.PublishContentRequest.MetadataEntry"),
					},
				},
				NestedType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("MetadataEntry"),
						Field: []*descriptorpb.FieldDescriptorProto{
							scalarField("key", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
							scalarField("value", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
						},
						Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
					},
				},
			},
			{
				Name: proto.String("PublishContentResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("message", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					scalarField("publisher_response", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					scalarField("success", 3, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				},
			},
		},
	}

	file, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		return nil, fmt.Errorf("build content schema: %w", err)
	}

	req := file.Messages().ByName("PublishContentRequest")
	resp := file.Messages().ByName("PublishContentResponse")
	return &contentSchema{
		request:           req,
		response:          resp,
		content:           req.Fields().ByName("content"),
		metadata:          req.Fields().ByName("metadata"),
		message:           resp.Fields().ByName("message"),
		publisherResponse: resp.Fields().ByName("publisher_response"),
		success:           resp.Fields().ByName("success"),
	}, nil
}

func scalarField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}
