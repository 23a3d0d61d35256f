// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package cnet

import (
	"bytes"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

// The binary form is a keyword label padded to a block boundary, followed by a
// protobuf wire format header message and the point messages, each prefixed
// with its varint length. Floating point fields are fixed64, so values round
// trip bit exactly
const binaryBlock = 4096

// Header message fields
const (
	hNetworkID protowire.Number = iota + 1
	hTargetName
	hUserName
	hCreated
	hLastModified
	hDescription
	hPointCount
)

// Point message fields
const (
	pID protowire.Number = iota + 1
	pType
	pChooser
	pDateTime
	pIgnored
	pEditLocked
	pApriori      // 3 repeated fixed64
	pAprioriSigma // 3 repeated fixed64
	pAdjusted     // 3 repeated fixed64
	pAdjustedSigma
	pComment
	pRefIndex // index+1, zero when unset
	pMeasure  // repeated embedded message
)

// Measure message fields
const (
	mSerial protowire.Number = iota + 1
	mSample
	mLine
	mAprioriSample
	mAprioriLine
	mSampleResidual
	mLineResidual
	mDiameter
	mIgnored
	mEditLocked
	mChooser
	mDateTime
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendTriple(b []byte, num protowire.Number, v [3]float64) []byte {
	for _, x := range v {
		b = appendDouble(b, num, x)
	}
	return b
}

func (n *Network) encodeHeader() []byte {
	var b []byte
	b = appendString(b, hNetworkID, n.NetworkID)
	b = appendString(b, hTargetName, n.TargetName)
	b = appendString(b, hUserName, n.UserName)
	b = appendString(b, hCreated, n.Created)
	b = appendString(b, hLastModified, n.LastModified)
	b = appendString(b, hDescription, n.Description)
	b = appendVarint(b, hPointCount, uint64(len(n.points)))
	return b
}

func encodePoint(p *Point) []byte {
	var b []byte
	b = appendString(b, pID, p.ID)
	b = appendVarint(b, pType, uint64(p.Type))
	b = appendString(b, pChooser, p.ChooserName)
	b = appendString(b, pDateTime, p.DateTime)
	b = appendBool(b, pIgnored, p.Ignored)
	b = appendBool(b, pEditLocked, p.EditLocked)
	b = appendTriple(b, pApriori, [3]float64{p.Apriori.Lat, p.Apriori.Lon, p.Apriori.Radius})
	b = appendTriple(b, pAprioriSigma, p.AprioriSigmas)
	b = appendTriple(b, pAdjusted, [3]float64{p.Adjusted.Lat, p.Adjusted.Lon, p.Adjusted.Radius})
	b = appendTriple(b, pAdjustedSigma, p.AdjustedSigmas)
	b = appendString(b, pComment, p.Comment)
	b = appendVarint(b, pRefIndex, uint64(p.refIndex+1))
	for _, m := range p.measures {
		b = protowire.AppendTag(b, pMeasure, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMeasure(m))
	}
	return b
}

func encodeMeasure(m *Measure) []byte {
	var b []byte
	b = appendString(b, mSerial, m.Serial)
	b = appendDouble(b, mSample, m.Sample)
	b = appendDouble(b, mLine, m.Line)
	b = appendDouble(b, mAprioriSample, m.AprioriSample)
	b = appendDouble(b, mAprioriLine, m.AprioriLine)
	b = appendDouble(b, mSampleResidual, m.SampleResidual)
	b = appendDouble(b, mLineResidual, m.LineResidual)
	b = appendDouble(b, mDiameter, m.Diameter)
	b = appendBool(b, mIgnored, m.Ignored)
	b = appendBool(b, mEditLocked, m.EditLocked)
	b = appendString(b, mChooser, m.ChooserName)
	b = appendString(b, mDateTime, m.DateTime)
	return b
}

// Writes the network in binary form
func (n *Network) WriteBinary(w io.Writer) error {
	header := n.encodeHeader()
	var points []byte
	measures := 0
	for _, p := range n.points {
		points = protowire.AppendBytes(points, encodePoint(p))
		measures += p.Len()
	}

	label := pvl.NewDocument()
	pb := label.AddObject(pvl.NewObject("ProtoBuffer"))
	core := pb.AddGroup(pvl.NewGroup("Core"))
	core.AddInt("HeaderStartByte", binaryBlock)
	core.AddInt("HeaderBytes", len(header))
	core.AddInt("PointsStartByte", binaryBlock+len(header))
	core.AddInt("PointsBytes", len(points))
	info := pb.AddGroup(pvl.NewGroup("ControlNetworkInfo"))
	info.Add("NetworkId", n.NetworkID)
	info.Add("TargetName", n.TargetName)
	info.AddInt("NumberOfPoints", len(n.points))
	info.AddInt("NumberOfMeasures", measures)
	text := label.String()
	if len(text) >= binaryBlock {
		return errs.New(errs.Input, "network label exceeds %d bytes", binaryBlock)
	}

	for _, chunk := range [][]byte{[]byte(text), make([]byte, binaryBlock-len(text)), header, points} {
		if _, err := w.Write(chunk); err != nil {
			return errs.Wrap(errs.Resource, err, "writing network")
		}
	}
	return nil
}

// Reports whether the given file contents are a binary network
func IsBinary(buf []byte) bool {
	return bytes.Contains(buf[:min(len(buf), 256)], []byte("ProtoBuffer"))
}

// Parses a network in binary form
func ReadBinary(buf []byte) (*Network, error) {
	label, err := pvl.Read(bytes.NewReader(buf))
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading network label")
	}
	core := label.FindGroupDeep("Core")
	if core == nil {
		return nil, errs.New(errs.Input, "network label has no Core group")
	}
	var pos [4]int
	for i, k := range []string{"HeaderStartByte", "HeaderBytes", "PointsStartByte", "PointsBytes"} {
		if pos[i], err = core.Int(k); err != nil {
			return nil, errs.Wrap(errs.Input, err, "reading network label")
		}
	}
	if pos[0] < 0 || pos[1] < 0 || pos[2] < 0 || pos[3] < 0 || pos[0]+pos[1] > len(buf) || pos[2]+pos[3] > len(buf) {
		return nil, errs.New(errs.Input, "network data truncated")
	}

	n := New("", "")
	count, err := n.decodeHeader(buf[pos[0] : pos[0]+pos[1]])
	if err != nil {
		return nil, err
	}
	b := buf[pos[2] : pos[2]+pos[3]]
	for len(b) > 0 {
		msg, l := protowire.ConsumeBytes(b)
		if l < 0 {
			return nil, wireError(l)
		}
		b = b[l:]
		p, err := decodePoint(msg)
		if err != nil {
			return nil, err
		}
		if err := n.AddPoint(p); err != nil {
			return nil, err
		}
	}
	if n.Len() != count {
		return nil, errs.New(errs.Input, "network header announces %d points, found %d", count, n.Len())
	}
	return n, nil
}

func wireError(l int) error {
	return errs.Wrap(errs.Input, protowire.ParseError(l), "decoding network")
}

// Iterates over the fields of a message
func eachField(b []byte, f func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return wireError(l)
		}
		b = b[l:]
		used, err := f(num, typ, b)
		if err != nil {
			return err
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
		}
		if used < 0 {
			return wireError(used)
		}
		b = b[used:]
	}
	return nil
}

func consumeString(b []byte, dst *string) (int, error) {
	s, l := protowire.ConsumeString(b)
	if l < 0 {
		return 0, wireError(l)
	}
	*dst = s
	return l, nil
}

func consumeDouble(b []byte, dst *float64) (int, error) {
	v, l := protowire.ConsumeFixed64(b)
	if l < 0 {
		return 0, wireError(l)
	}
	*dst = math.Float64frombits(v)
	return l, nil
}

func consumeVarint(b []byte, dst *uint64) (int, error) {
	v, l := protowire.ConsumeVarint(b)
	if l < 0 {
		return 0, wireError(l)
	}
	*dst = v
	return l, nil
}

func consumeBool(b []byte, dst *bool) (int, error) {
	var v uint64
	l, err := consumeVarint(b, &v)
	*dst = protowire.DecodeBool(v)
	return l, err
}

func (n *Network) decodeHeader(b []byte) (count int, err error) {
	err = eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case hNetworkID:
			return consumeString(v, &n.NetworkID)
		case hTargetName:
			return consumeString(v, &n.TargetName)
		case hUserName:
			return consumeString(v, &n.UserName)
		case hCreated:
			return consumeString(v, &n.Created)
		case hLastModified:
			return consumeString(v, &n.LastModified)
		case hDescription:
			return consumeString(v, &n.Description)
		case hPointCount:
			var c uint64
			l, err := consumeVarint(v, &c)
			count = int(c)
			return l, err
		}
		return 0, nil
	})
	return count, err
}

func decodePoint(b []byte) (*Point, error) {
	p := NewPoint("", Free)
	var apriori, aprioriSigma, adjusted, adjustedSigma []float64
	var ref uint64
	triple := func(v []byte, dst *[]float64) (int, error) {
		var x float64
		l, err := consumeDouble(v, &x)
		*dst = append(*dst, x)
		return l, err
	}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case pID:
			return consumeString(v, &p.ID)
		case pType:
			var t uint64
			l, err := consumeVarint(v, &t)
			if t > uint64(Constrained) {
				return 0, errs.New(errs.Input, "invalid point type %d", t)
			}
			p.Type = PointType(t)
			return l, err
		case pChooser:
			return consumeString(v, &p.ChooserName)
		case pDateTime:
			return consumeString(v, &p.DateTime)
		case pIgnored:
			return consumeBool(v, &p.Ignored)
		case pEditLocked:
			return consumeBool(v, &p.EditLocked)
		case pApriori:
			return triple(v, &apriori)
		case pAprioriSigma:
			return triple(v, &aprioriSigma)
		case pAdjusted:
			return triple(v, &adjusted)
		case pAdjustedSigma:
			return triple(v, &adjustedSigma)
		case pComment:
			return consumeString(v, &p.Comment)
		case pRefIndex:
			return consumeVarint(v, &ref)
		case pMeasure:
			msg, l := protowire.ConsumeBytes(v)
			if l < 0 {
				return 0, wireError(l)
			}
			m, err := decodeMeasure(msg)
			if err != nil {
				return 0, err
			}
			return l, p.AddMeasure(m)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range []struct {
		src []float64
		dst *[3]float64
	}{{apriori, nil}, {aprioriSigma, &p.AprioriSigmas}, {adjusted, nil}, {adjustedSigma, &p.AdjustedSigmas}} {
		if len(t.src) != 3 {
			return nil, errs.New(errs.Input, "point %s: expected 3 coordinate values, got %d", p.ID, len(t.src))
		}
		if t.dst != nil {
			copy(t.dst[:], t.src)
		}
	}
	p.Apriori.Lat, p.Apriori.Lon, p.Apriori.Radius = apriori[0], apriori[1], apriori[2]
	p.Adjusted.Lat, p.Adjusted.Lon, p.Adjusted.Radius = adjusted[0], adjusted[1], adjusted[2]
	if ref > 0 {
		if err := p.SetReference(int(ref) - 1); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func decodeMeasure(b []byte) (*Measure, error) {
	m := &Measure{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case mSerial:
			return consumeString(v, &m.Serial)
		case mSample:
			return consumeDouble(v, &m.Sample)
		case mLine:
			return consumeDouble(v, &m.Line)
		case mAprioriSample:
			return consumeDouble(v, &m.AprioriSample)
		case mAprioriLine:
			return consumeDouble(v, &m.AprioriLine)
		case mSampleResidual:
			return consumeDouble(v, &m.SampleResidual)
		case mLineResidual:
			return consumeDouble(v, &m.LineResidual)
		case mDiameter:
			return consumeDouble(v, &m.Diameter)
		case mIgnored:
			return consumeBool(v, &m.Ignored)
		case mEditLocked:
			return consumeBool(v, &m.EditLocked)
		case mChooser:
			return consumeString(v, &m.ChooserName)
		case mDateTime:
			return consumeString(v, &m.DateTime)
		}
		return 0, nil
	})
	return m, err
}
