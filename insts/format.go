package insts

import "strings"

// String renders the instruction in assembler syntax. The data type suffix
// is omitted when it is the opcode's default.
func (i *Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(i.Name())
	if info := Lookup(i.Op); info == nil || info.DefaultType != i.DataType {
		sb.WriteByte('.')
		sb.WriteString(i.DataType.String())
	}
	for n, opnd := range i.Args() {
		if n == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(opnd.String())
	}
	return sb.String()
}
