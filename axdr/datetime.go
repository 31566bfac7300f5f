package axdr

import (
	"bytes"
	"fmt"
	"time"
)

// InvalidDeviation marks a DateTime whose deviation field was not
// specified on the wire (0xFFFF).
const InvalidDeviation int16 = -1

// Date is the 5-byte date structure of spec.md §4.1.
type Date struct {
	Year      uint16
	Month     byte
	Day       byte
	DayOfWeek byte
}

// Time is the 4-byte time structure.
type Time struct {
	Hour       byte
	Minute     byte
	Second     byte
	Hundredths byte
}

// DateTime is the 12-byte date_time structure of spec.md §4.1. Deviation
// is stored as -(UTC offset in minutes) per the Design Notes convention:
// ToUTCTime negates it to recover the UTC offset.
type DateTime struct {
	Date      Date
	Time      Time
	Deviation int16 // minutes, stored as -(UTC offset)
	Status    byte
}

func (t DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%02d dev=%+d status=%02x",
		t.Date.Year, t.Date.Month, t.Date.Day, t.Time.Hour, t.Time.Minute, t.Time.Second, t.Time.Hundredths, t.Deviation, t.Status)
}

// ToTime builds the calendar time the wire fields represent, in the zone
// they were recorded in. Per the Design Notes, the stored deviation is
// negated to obtain the actual UTC offset (stored deviation = -(UTC
// offset)): wall-clock fields are local time at that recovered offset.
func (t DateTime) ToTime() (time.Time, error) {
	if t.Date.Year == 0xffff || t.Date.Month == 0xff || t.Date.Day == 0xff || t.Time.Hour == 0xff || t.Time.Minute == 0xff {
		return time.Time{}, fmt.Errorf("axdr: date/time fields not specified")
	}
	ns := 0
	if t.Time.Hundredths != 0xff {
		ns = int(t.Time.Hundredths) * 10000000
	}
	offsetSeconds := 0
	if t.Deviation != InvalidDeviation {
		offsetSeconds = -int(t.Deviation) * 60
	}
	return time.Date(int(t.Date.Year), time.Month(t.Date.Month), int(t.Date.Day),
		int(t.Time.Hour), int(t.Time.Minute), int(t.Time.Second), ns,
		time.FixedZone("", offsetSeconds)), nil
}

// ToUTCTime is ToTime normalized to UTC; since ToTime already builds the
// time in the correctly recovered offset, this is just .UTC() of that.
func (t DateTime) ToUTCTime() (time.Time, error) {
	tt, err := t.ToTime()
	if err != nil {
		return time.Time{}, err
	}
	return tt.UTC(), nil
}

func negateDeviation(d int16) int16 {
	if d == InvalidDeviation {
		return d
	}
	return -d
}

// FromTime builds a DateTime from a time.Time, storing the negated zone
// offset so that ToUTCTime round-trips back to the same instant.
func FromTime(src time.Time) DateTime {
	wd := byte(src.Weekday())
	if wd == 0 {
		wd = 7
	}
	_, off := src.Zone()
	return DateTime{
		Date: Date{Year: uint16(src.Year()), Month: byte(src.Month()), Day: byte(src.Day()), DayOfWeek: wd},
		Time: Time{Hour: byte(src.Hour()), Minute: byte(src.Minute()), Second: byte(src.Second()), Hundredths: byte(src.Nanosecond() / 10000000)},
		// src.Zone() returns the UTC offset; stored deviation is its negation.
		Deviation: negateDeviation(int16(off / 60)),
		Status:    0,
	}
}

// DateTimeFromBytes decodes the 12-byte wire form.
func DateTimeFromBytes(src []byte) (DateTime, error) {
	if len(src) < 12 {
		return DateTime{}, fmt.Errorf("axdr: date_time needs 12 bytes, got %d", len(src))
	}
	return DateTime{
		Date:      Date{Year: uint16(src[0])<<8 | uint16(src[1]), Month: src[2], Day: src[3], DayOfWeek: src[4]},
		Time:      Time{Hour: src[5], Minute: src[6], Second: src[7], Hundredths: src[8]},
		Deviation: int16(src[9])<<8 | int16(src[10]),
		Status:    src[11],
	}, nil
}

func encodeDate(out *bytes.Buffer, d Date) {
	out.WriteByte(byte(d.Year >> 8))
	out.WriteByte(byte(d.Year))
	out.WriteByte(d.Month)
	out.WriteByte(d.Day)
	out.WriteByte(d.DayOfWeek)
}

func encodeTime(out *bytes.Buffer, t Time) {
	out.WriteByte(t.Hour)
	out.WriteByte(t.Minute)
	out.WriteByte(t.Second)
	out.WriteByte(t.Hundredths)
}

func encodeDateTime(out *bytes.Buffer, t DateTime) {
	encodeDate(out, t.Date)
	encodeTime(out, t.Time)
	out.WriteByte(byte(t.Deviation >> 8))
	out.WriteByte(byte(t.Deviation))
	out.WriteByte(t.Status)
}
