// Package pb holds the messages exchanged between workers, as described by
// gbreduce.proto. They are marshalled with gogo/protobuf from their struct tags.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
)

type Hello struct {
	Rank  uint32 `protobuf:"varint,1,opt,name=rank,proto3" json:"rank,omitempty"`
	Size  uint32 `protobuf:"varint,2,opt,name=size,proto3" json:"size,omitempty"`
	Group string `protobuf:"bytes,3,opt,name=group,proto3" json:"group,omitempty"`
}

func (m *Hello) Reset()         { *m = Hello{} }
func (m *Hello) String() string { return proto.CompactTextString(m) }
func (*Hello) ProtoMessage()    {}

func (m *Hello) GetRank() uint32 {
	if m != nil {
		return m.Rank
	}
	return 0
}

func (m *Hello) GetSize() uint32 {
	if m != nil {
		return m.Size
	}
	return 0
}

func (m *Hello) GetGroup() string {
	if m != nil {
		return m.Group
	}
	return ""
}

type Frame struct {
	Tag  uint32  `protobuf:"varint,1,opt,name=tag,proto3" json:"tag,omitempty"`
	Ints []int64 `protobuf:"varint,2,rep,packed,name=ints,proto3" json:"ints,omitempty"`
}

func (m *Frame) Reset()         { *m = Frame{} }
func (m *Frame) String() string { return proto.CompactTextString(m) }
func (*Frame) ProtoMessage()    {}

func (m *Frame) GetTag() uint32 {
	if m != nil {
		return m.Tag
	}
	return 0
}

func (m *Frame) GetInts() []int64 {
	if m != nil {
		return m.Ints
	}
	return nil
}

func init() {
	proto.RegisterType((*Hello)(nil), "gbreduce.pb.Hello")
	proto.RegisterType((*Frame)(nil), "gbreduce.pb.Frame")
}
